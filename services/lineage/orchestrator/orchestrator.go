// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs independent analysis routines against a shared
// input and merges their reports into one verdict.
//
// A run moves through Idle → Running(mode) → Synthesizing → Done, or to
// Failed when any routine is still failing after its retries. Every routine
// is wrapped by the same Policy: a per-attempt deadline, bounded attempts
// with linear backoff, and optional fail-fast.
//
// Lifecycle events are published on the event bus under the source name
// "orchestrator".
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
)

// EventSource is the source name of events published by the orchestrator.
const EventSource = "orchestrator"

// Event types published by the orchestrator.
const (
	EventAnalysisStarted      = "analysis_started"
	EventRoutineStarted       = "routine_started"
	EventRoutineAttemptFailed = "routine_attempt_failed"
	EventRoutineCompleted     = "routine_completed"
	EventRoutineFailed        = "routine_failed"
	EventAnalysisCompleted    = "analysis_completed"
	EventAnalysisFailed       = "analysis_failed"
	EventStateChanged         = "state_changed"
)

// Orchestrator runs a fixed set of routines.
//
// Thread Safety: State and HealthCheck are safe to call during Run. Run
// itself is meant to be called once per Orchestrator; concurrent runs
// share the state field and State reports whichever transitioned last.
type Orchestrator struct {
	config   Config
	routines []Routine
	bus      bus.Publisher
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus sets the event bus. Defaults to bus.Default().
func WithBus(p bus.Publisher) Option {
	return func(o *Orchestrator) {
		o.bus = p
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator for routines. Routine names must be unique;
// they key the per-routine reports of the merged result.
func New(cfg Config, routines []Routine, opts ...Option) (*Orchestrator, error) {
	if len(routines) == 0 {
		return nil, ErrNoRoutines
	}
	seen := make(map[string]bool, len(routines))
	for _, r := range routines {
		if seen[r.Name()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoutine, r.Name())
		}
		seen[r.Name()] = true
	}

	o := &Orchestrator{
		config:   cfg,
		routines: append([]Routine(nil), routines...),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = bus.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Config returns the execution settings.
func (o *Orchestrator) Config() Config {
	return o.config
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Run executes every routine and merges the reports.
//
// Description:
//
//	In parallel mode routines run concurrently under an errgroup: the first
//	routine to exhaust its retries cancels the others and fails the run.
//	In sequential mode each routine is fully retried before the next
//	starts. A failed run never returns a partial report.
//
// Inputs:
//
//	ctx - Cancellation for the whole run.
//	in - Shared input. Must not be nil and must carry a graph.
//
// Outputs:
//
//	*MergedReport - The merged verdict.
//	error - *RunError naming the failed stage and routine. It unwraps to
//	        ErrOrchestratorFailure and the routine's last error.
func (o *Orchestrator) Run(ctx context.Context, in *Input) (*MergedReport, error) {
	runID := uuid.New()
	mode := o.config.Mode()
	start := time.Now()

	ctx, span := startRunSpan(ctx, runID.String(), mode, len(o.routines))
	defer span.End()

	if in == nil || in.Graph == nil {
		err := &RunError{Stage: StateIdle, Err: errors.New("input graph is required")}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	o.setState(StateRunning)
	o.bus.Emit(EventSource, EventAnalysisStarted, map[string]any{
		"run_id":      runID.String(),
		"mode":        string(mode),
		"routines":    o.routineNames(),
		"changed_ids": len(in.ChangedIDs),
	})
	o.logger.Info("analysis started",
		slog.String("run_id", runID.String()),
		slog.String("mode", string(mode)),
		slog.Int("routines", len(o.routines)),
	)

	var (
		reports []Report
		err     error
	)
	if mode == ModeParallel {
		reports, err = o.runParallel(ctx, in)
	} else {
		reports, err = o.runSequential(ctx, in)
	}
	if err != nil {
		o.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.bus.Emit(EventSource, EventAnalysisFailed, map[string]any{
			"run_id": runID.String(),
			"error":  err.Error(),
		})
		o.logger.Error("analysis failed",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
		recordRunMetrics(ctx, time.Since(start), mode, "failed")
		return nil, err
	}

	o.setState(StateSynthesizing)
	merged := o.synthesize(in, reports)
	merged.ID = runID
	merged.DurationMs = time.Since(start).Milliseconds()
	o.setState(StateDone)

	span.SetAttributes(
		attribute.String("orchestrator.overall_risk", merged.OverallRisk.String()),
		attribute.String("orchestrator.approval", string(merged.ApprovalStatus)),
	)
	o.bus.Emit(EventSource, EventAnalysisCompleted, map[string]any{
		"run_id":          runID.String(),
		"overall_risk":    merged.OverallRisk.String(),
		"approval_status": string(merged.ApprovalStatus),
		"duration_ms":     merged.DurationMs,
	})
	o.logger.Info("analysis completed",
		slog.String("run_id", runID.String()),
		slog.String("overall_risk", merged.OverallRisk.String()),
		slog.String("approval_status", string(merged.ApprovalStatus)),
		slog.Int64("duration_ms", merged.DurationMs),
	)
	recordRunMetrics(ctx, time.Since(start), mode, string(merged.ApprovalStatus))
	return merged, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, in *Input) ([]Report, error) {
	reports := make([]Report, len(o.routines))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range o.routines {
		g.Go(func() error {
			rep, err := o.runRoutine(gctx, r, in)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, in *Input) ([]Report, error) {
	reports := make([]Report, 0, len(o.routines))
	for _, r := range o.routines {
		rep, err := o.runRoutine(ctx, r, in)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// runRoutine applies the retry policy to one routine.
func (o *Orchestrator) runRoutine(ctx context.Context, r Routine, in *Input) (Report, error) {
	name := r.Name()
	ctx, span := startRoutineSpan(ctx, name)
	defer span.End()

	start := time.Now()
	o.bus.Emit(EventSource, EventRoutineStarted, map[string]any{"routine": name})

	policy := o.config.Policy()
	policy.OnFailure = func(attempt int, err error) {
		timedOut := errors.Is(err, ErrTimeout)
		recordAttemptFailure(ctx, name, timedOut)
		o.bus.Emit(EventSource, EventRoutineAttemptFailed, map[string]any{
			"routine": name,
			"attempt": attempt,
			"timeout": timedOut,
			"error":   err.Error(),
		})
		o.logger.Warn("routine attempt failed",
			slog.String("routine", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	rep, err := WithRetry(ctx, policy, name, func(ctx context.Context) (Report, error) {
		rep, err := r.Run(ctx, in)
		if err == nil && rep == nil {
			return nil, ErrNoReport
		}
		return rep, err
	})
	elapsed := time.Since(start)
	recordRoutineMetrics(ctx, name, elapsed, err == nil)

	if err != nil {
		attempts := 0
		var re *RoutineError
		if errors.As(err, &re) {
			attempts = re.Attempt
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.bus.Emit(EventSource, EventRoutineFailed, map[string]any{
			"routine":  name,
			"attempts": attempts,
			"error":    err.Error(),
		})
		return nil, &RunError{Stage: StateRunning, Routine: name, Attempts: attempts, Err: err}
	}

	o.bus.Emit(EventSource, EventRoutineCompleted, map[string]any{
		"routine":     name,
		"risk_level":  rep.RiskLevel().String(),
		"duration_ms": elapsed.Milliseconds(),
	})
	o.logger.Info("routine completed",
		slog.String("routine", name),
		slog.String("risk_level", rep.RiskLevel().String()),
		slog.Duration("duration", elapsed),
	)
	return rep, nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()

	o.logger.Debug("orchestrator state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(s)),
	)
	o.bus.Emit(EventSource, EventStateChanged, map[string]any{
		"from": string(prev),
		"to":   string(s),
	})
}

func (o *Orchestrator) routineNames() []string {
	names := make([]string, len(o.routines))
	for i, r := range o.routines {
		names[i] = r.Name()
	}
	return names
}
