// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// RoutineName is the name the impact routine registers under.
const RoutineName = "impact"

// EventSource is the source name of impact events on the bus.
const EventSource = "impact_analysis"

// Report is the result of the impact routine.
type Report struct {
	ID               uuid.UUID         `json:"id"`
	GeneratedAt      time.Time         `json:"generated_at"`
	DirectlyAffected []string          `json:"directly_affected"`
	DownstreamModels []string          `json:"downstream_models"`
	AffectedTests    []string          `json:"affected_tests"`
	AffectedSources  []string          `json:"affected_sources"`
	ImpactScore      float64           `json:"impact_score"`
	Risk             risk.Level        `json:"risk_level"`
	WarehouseImpacts []WarehouseImpact `json:"warehouse_impacts"`
	Recs             []string          `json:"recommendations"`
	ImpactDepth      map[string]int    `json:"impact_depth"`
	DepthApproximate bool              `json:"depth_approximate"`
	Radius           map[string]int    `json:"radius"`
	TotalAffected    int               `json:"total_affected"`
}

// RiskLevel implements orchestrator.Report.
func (r *Report) RiskLevel() risk.Level { return r.Risk }

// Recommendations implements orchestrator.Report.
func (r *Report) Recommendations() []string { return r.Recs }

// IsHighImpact reports whether the risk is High or Critical.
func (r *Report) IsHighImpact() bool {
	return r.Risk.AtLeast(risk.High)
}

// KeyFindings implements orchestrator.FindingsReporter.
func (r *Report) KeyFindings() []string {
	if !r.IsHighImpact() {
		return nil
	}
	return []string{fmt.Sprintf("High impact changes affecting %d downstream resources", r.TotalAffected)}
}

// Signals implements orchestrator.SignalReporter.
func (r *Report) Signals() orchestrator.Signals {
	return orchestrator.Signals{
		HighImpact:    r.IsHighImpact(),
		ChangedModels: r.DirectlyAffected,
	}
}

// Analyze runs a complete impact analysis over store.
//
// Description:
//
//	Computes the downstream impact of changed, scores it (normalized by
//	totalProjectSize when positive), assesses risk, and attaches depth
//	and radius information. Depths are flagged approximate when a
//	changed node reaches a cycle.
//
// Outputs:
//
//	*Report - The impact report.
//	error - graph.ErrNodeNotFound for an unknown changed id, or ctx.Err().
func Analyze(ctx context.Context, store *graph.Store, changed []string, totalProjectSize int, logger *slog.Logger) (*Report, error) {
	if store == nil {
		return nil, errors.New("impact analysis requires a graph")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := startAnalysisSpan(ctx, len(changed))
	defer span.End()

	q := graph.NewQuerier(store)
	a := NewAnalyzer(q, logger)

	fail := func(err error) (*Report, error) {
		setAnalysisSpanResult(span, "", 0, 0, false)
		recordAnalysisMetrics(ctx, time.Since(start), "", 0, 0, false)
		return nil, err
	}

	downstream, err := a.AnalyzeDownstream(changed)
	if err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	depths, approximate, err := a.ImpactDepth(ctx, changed)
	if err != nil {
		return fail(err)
	}
	radius, err := q.ImpactRadius(changed, 0)
	if err != nil {
		return fail(err)
	}

	score := CalculateScore(downstream, totalProjectSize)
	level := AssessRisk(score, downstream)

	report := &Report{
		ID:               uuid.New(),
		GeneratedAt:      time.Now().UTC(),
		DirectlyAffected: append([]string{}, changed...),
		DownstreamModels: downstream.Models,
		AffectedTests:    downstream.Tests,
		AffectedSources:  downstream.Sources,
		ImpactScore:      score,
		Risk:             level,
		WarehouseImpacts: downstream.WarehouseImpacts,
		Recs:             Recommendations(level, downstream),
		ImpactDepth:      depths,
		DepthApproximate: approximate,
		Radius:           radius,
		TotalAffected:    downstream.TotalAffected(),
	}

	setAnalysisSpanResult(span, level.String(), score, report.TotalAffected, true)
	recordAnalysisMetrics(ctx, time.Since(start), level.String(), score, report.TotalAffected, true)
	return report, nil
}

// Routine adapts Analyze to the orchestrator routine contract.
type Routine struct {
	bus    bus.Publisher
	logger *slog.Logger
}

// RoutineOption configures a Routine.
type RoutineOption func(*Routine)

// WithBus sets the event bus. Defaults to bus.Default().
func WithBus(p bus.Publisher) RoutineOption {
	return func(r *Routine) { r.bus = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RoutineOption {
	return func(r *Routine) { r.logger = logger }
}

// NewRoutine creates the impact routine.
func NewRoutine(opts ...RoutineOption) *Routine {
	r := &Routine{}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = bus.Default()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Name implements orchestrator.Routine.
func (r *Routine) Name() string { return RoutineName }

// Run implements orchestrator.Routine.
func (r *Routine) Run(ctx context.Context, in *orchestrator.Input) (orchestrator.Report, error) {
	r.bus.Emit(EventSource, "impact_analysis_started", map[string]any{
		"changed_ids": in.ChangedIDs,
	})

	report, err := Analyze(ctx, in.Graph, in.ChangedIDs, in.TotalProjectSize, r.logger)
	if err != nil {
		return nil, err
	}

	r.bus.Emit(EventSource, "impact_analysis_completed", map[string]any{
		"report_id":      report.ID.String(),
		"risk_level":     report.Risk.String(),
		"impact_score":   report.ImpactScore,
		"total_affected": report.TotalAffected,
	})
	r.logger.Info("impact analysis completed",
		slog.String("risk_level", report.Risk.String()),
		slog.Float64("impact_score", report.ImpactScore),
		slog.Int("total_affected", report.TotalAffected),
	)
	return report, nil
}

// HealthCheck verifies the traversal engine on a two-node graph.
func (r *Routine) HealthCheck(context.Context) error {
	s, err := graph.Build(
		[]graph.Node{{ID: "health.a", Kind: graph.KindModel}, {ID: "health.b", Kind: graph.KindTest}},
		[]graph.Edge{{From: "health.a", To: "health.b"}},
		graph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return fmt.Errorf("impact health check: %w", err)
	}
	desc, err := graph.NewQuerier(s).Descendants("health.a")
	if err != nil {
		return fmt.Errorf("impact health check: %w", err)
	}
	if len(desc) != 1 || desc[0] != "health.b" {
		return errors.New("impact health check: unexpected traversal result")
	}
	return nil
}
