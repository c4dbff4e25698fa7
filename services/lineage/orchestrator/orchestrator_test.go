// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeReport struct {
	level    risk.Level
	recs     []string
	findings []string
	critical []string
	signals  Signals
}

func (r *fakeReport) RiskLevel() risk.Level     { return r.level }
func (r *fakeReport) Recommendations() []string { return r.recs }
func (r *fakeReport) KeyFindings() []string     { return r.findings }
func (r *fakeReport) CriticalIssues() []string  { return r.critical }
func (r *fakeReport) Signals() Signals          { return r.signals }

type fakeRoutine struct {
	name      string
	report    Report
	failFirst int // -1 fails every attempt
	delay     time.Duration
	healthErr error
	onRun     func(name string)

	calls atomic.Int32
}

func (f *fakeRoutine) Name() string { return f.name }

func (f *fakeRoutine) Run(ctx context.Context, _ *Input) (Report, error) {
	n := int(f.calls.Add(1))
	if f.onRun != nil {
		f.onRun(f.name)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failFirst < 0 || n <= f.failFirst {
		return nil, fmt.Errorf("%s attempt %d failed", f.name, n)
	}
	return f.report, nil
}

func (f *fakeRoutine) HealthCheck(context.Context) error { return f.healthErr }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInput(t *testing.T) *Input {
	t.Helper()
	s, err := graph.Build(
		[]graph.Node{{ID: "model.a", Kind: graph.KindModel}, {ID: "model.b", Kind: graph.KindModel}},
		[]graph.Edge{{From: "model.a", To: "model.b"}},
		graph.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	return &Input{Graph: s, ChangedIDs: []string{"model.a"}}
}

func fastConfig() Config {
	return Config{
		Timeout:     time.Second,
		MaxRetries:  3,
		Parallel:    true,
		BackoffUnit: time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, b *bus.Bus, routines ...Routine) *Orchestrator {
	t.Helper()
	o, err := New(cfg, routines, WithBus(b), WithLogger(quietLogger()))
	require.NoError(t, err)
	return o
}

func eventTypes(b *bus.Bus) []string {
	var types []string
	for _, e := range b.History(bus.HistoryFilter{Source: EventSource}) {
		types = append(types, e.Type)
	}
	return types
}

// =============================================================================
// RETRY POLICY
// =============================================================================

func TestWithRetry_ExhaustsAttemptsWithLinearBackoff(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 4,
		Backoff:     10 * time.Millisecond,
		wait: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}

	calls := 0
	_, err := WithRetry(context.Background(), p, "impact", func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("failure %d", calls)
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, waits)

	var re *RoutineError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 4, re.Attempt)
	assert.EqualError(t, re.Err, "failure 4", "last error is kept, not the first")
	assert.ErrorIs(t, err, ErrRoutineFailure)
}

func TestWithRetry_FailFastMakesOneAttempt(t *testing.T) {
	waited := false
	p := Policy{
		MaxAttempts: 5,
		FailFast:    true,
		Backoff:     time.Millisecond,
		wait: func(context.Context, time.Duration) error {
			waited = true
			return nil
		},
	}

	calls := 0
	_, err := WithRetry(context.Background(), p, "quality", func(context.Context) (string, error) {
		calls++
		return "", errors.New("bad sql")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, waited)
}

func TestWithRetry_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), Policy{}, "r", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Millisecond}

	var failures []int
	p.OnFailure = func(attempt int, _ error) { failures = append(failures, attempt) }

	calls := 0
	v, err := WithRetry(context.Background(), p, "r", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{1, 2}, failures)
}

func TestWithRetry_TimeoutAbandonsAttempt(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := Policy{Timeout: 20 * time.Millisecond, MaxAttempts: 2, Backoff: time.Millisecond}

	start := time.Now()
	_, err := WithRetry(context.Background(), p, "performance", func(context.Context) (int, error) {
		// ignores its context
		<-release
		return 1, nil
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrTimeout)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "performance", te.Routine)
	assert.Equal(t, 20*time.Millisecond, te.After)
}

func TestWithRetry_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := Policy{MaxAttempts: 5, Backoff: time.Hour}
	p.OnFailure = func(int, error) { cancel() }

	calls := 0
	_, err := WithRetry(ctx, p, "r", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RecoversPanic(t *testing.T) {
	_, err := WithRetry(context.Background(), Policy{}, "r", func(context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: boom")
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNoRoutines)

	_, err = New(DefaultConfig(), []Routine{&fakeRoutine{name: "a"}, &fakeRoutine{name: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateRoutine)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.Parallel)
	assert.False(t, cfg.FailFast)
	assert.Equal(t, ModeParallel, cfg.Mode())
}

func TestRun_CriticalReportDominates(t *testing.T) {
	b := bus.New(bus.WithLogger(quietLogger()))
	o := newTestOrchestrator(t, fastConfig(), b,
		&fakeRoutine{name: "impact", report: &fakeReport{level: risk.Low}},
		&fakeRoutine{name: "quality", report: &fakeReport{level: risk.Critical}},
		&fakeRoutine{name: "performance", report: &fakeReport{level: risk.Medium}},
	)
	assert.Equal(t, StateIdle, o.State())

	merged, err := o.Run(context.Background(), testInput(t))
	require.NoError(t, err)

	assert.Equal(t, risk.Critical, merged.OverallRisk)
	assert.Equal(t, Blocked, merged.ApprovalStatus)
	assert.True(t, merged.ShouldBlockMerge())
	assert.Len(t, merged.Reports, 3)
	assert.NotEmpty(t, merged.ID)
	assert.Equal(t, StateDone, o.State())

	types := eventTypes(b)
	assert.Equal(t, EventStateChanged, types[0])
	assert.Contains(t, types, EventAnalysisStarted)
	assert.Contains(t, types, EventRoutineCompleted)
	assert.Equal(t, EventAnalysisCompleted, types[len(types)-1])
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	b := bus.New(bus.WithLogger(quietLogger()))
	flaky := &fakeRoutine{name: "impact", failFirst: 2, report: &fakeReport{level: risk.Low}}
	o := newTestOrchestrator(t, fastConfig(), b, flaky)

	merged, err := o.Run(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, Approved, merged.ApprovalStatus)
	assert.Equal(t, int32(3), flaky.calls.Load())

	failed := b.History(bus.HistoryFilter{Source: EventSource, Type: EventRoutineAttemptFailed})
	assert.Len(t, failed, 2)
}

func TestRun_FailureAfterRetries(t *testing.T) {
	b := bus.New(bus.WithLogger(quietLogger()))
	cfg := fastConfig()
	cfg.MaxRetries = 2
	broken := &fakeRoutine{name: "quality", failFirst: -1}
	o := newTestOrchestrator(t, cfg, b, broken)

	merged, err := o.Run(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Nil(t, merged)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, StateRunning, re.Stage)
	assert.Equal(t, "quality", re.Routine)
	assert.Equal(t, 2, re.Attempts)
	assert.ErrorIs(t, err, ErrOrchestratorFailure)
	assert.ErrorIs(t, err, ErrRoutineFailure)
	assert.Contains(t, err.Error(), "quality attempt 2 failed")

	assert.Equal(t, StateFailed, o.State())
	assert.Contains(t, eventTypes(b), EventAnalysisFailed)
	assert.Contains(t, eventTypes(b), EventRoutineFailed)
}

func TestRun_FailFast(t *testing.T) {
	cfg := fastConfig()
	cfg.FailFast = true
	broken := &fakeRoutine{name: "impact", failFirst: -1}
	o := newTestOrchestrator(t, cfg, bus.New(bus.WithLogger(quietLogger())), broken)

	_, err := o.Run(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Equal(t, int32(1), broken.calls.Load())
}

func TestRun_TimeoutSurfacesThroughRunError(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 2
	slow := &fakeRoutine{name: "performance", delay: time.Second, report: &fakeReport{}}
	o := newTestOrchestrator(t, cfg, bus.New(bus.WithLogger(quietLogger())), slow)

	_, err := o.Run(context.Background(), testInput(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrOrchestratorFailure)
	assert.Equal(t, int32(2), slow.calls.Load())
}

func TestRun_ParallelFailureCancelsSiblings(t *testing.T) {
	cfg := fastConfig()
	cfg.FailFast = true
	cfg.Timeout = 5 * time.Second

	slow := &fakeRoutine{name: "impact", delay: 5 * time.Second, report: &fakeReport{}}
	broken := &fakeRoutine{name: "quality", failFirst: -1}
	o := newTestOrchestrator(t, cfg, bus.New(bus.WithLogger(quietLogger())), slow, broken)

	start := time.Now()
	_, err := o.Run(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "quality", re.Routine)
}

func TestRun_SequentialOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	cfg := fastConfig()
	cfg.Parallel = false
	o := newTestOrchestrator(t, cfg, bus.New(bus.WithLogger(quietLogger())),
		&fakeRoutine{name: "impact", onRun: record, report: &fakeReport{level: risk.Medium}},
		&fakeRoutine{name: "quality", onRun: record, report: &fakeReport{level: risk.Low}},
		&fakeRoutine{name: "performance", onRun: record, report: &fakeReport{level: risk.Low}},
	)

	merged, err := o.Run(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"impact", "quality", "performance"}, order)
	assert.Equal(t, ApprovedWithConditions, merged.ApprovalStatus)
}

func TestRun_SequentialStopsAtFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.Parallel = false
	cfg.MaxRetries = 1
	after := &fakeRoutine{name: "performance", report: &fakeReport{}}
	o := newTestOrchestrator(t, cfg, bus.New(bus.WithLogger(quietLogger())),
		&fakeRoutine{name: "impact", failFirst: -1},
		after,
	)

	_, err := o.Run(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Equal(t, int32(0), after.calls.Load())
}

func TestRun_NilReportIsFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1
	o := newTestOrchestrator(t, cfg, bus.New(bus.WithLogger(quietLogger())), &fakeRoutine{name: "impact"})

	_, err := o.Run(context.Background(), testInput(t))
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestRun_RequiresGraph(t *testing.T) {
	o := newTestOrchestrator(t, fastConfig(), bus.New(bus.WithLogger(quietLogger())),
		&fakeRoutine{name: "impact", report: &fakeReport{}})

	_, err := o.Run(context.Background(), &Input{})
	assert.ErrorIs(t, err, ErrOrchestratorFailure)
	assert.Equal(t, StateIdle, o.State())
}

func TestHealthCheck(t *testing.T) {
	o := newTestOrchestrator(t, fastConfig(), bus.New(bus.WithLogger(quietLogger())),
		&fakeRoutine{name: "impact"},
		&fakeRoutine{name: "quality", healthErr: errors.New("graph unavailable")},
	)

	status := o.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	require.Len(t, status.Components, 2)
	assert.True(t, status.Components[0].Healthy)
	assert.Equal(t, "quality", status.Components[1].Name)
	assert.Equal(t, "graph unavailable", status.Components[1].Error)
}

// =============================================================================
// SYNTHESIS
// =============================================================================

func TestApproval(t *testing.T) {
	tests := []struct {
		level    risk.Level
		critical bool
		want     ApprovalStatus
	}{
		{risk.Critical, false, Blocked},
		{risk.Low, true, Blocked},
		{risk.High, false, ChangesRequested},
		{risk.Medium, false, ApprovedWithConditions},
		{risk.Low, false, Approved},
	}
	for _, tt := range tests {
		got := Approval(tt.level, Signals{CriticalIssues: tt.critical})
		assert.Equal(t, tt.want, got, "%s critical=%v", tt.level, tt.critical)
	}
}

func TestSummarize(t *testing.T) {
	clean := Summarize([]Report{
		&fakeReport{findings: []string{"High impact changes affecting 12 downstream resources"}, recs: []string{"a", "b"}},
		&fakeReport{recs: []string{"c"}},
	})
	assert.Equal(t, 3, clean.RecommendationCount)
	assert.Equal(t,
		"PR analysis completed with 1 key findings and 3 recommendations. Overall risk level is appropriate for review.",
		clean.Summary)

	critical := Summarize([]Report{
		&fakeReport{
			findings: []string{"4 quality issues identified"},
			critical: []string{"Critical quality issues detected requiring immediate attention"},
		},
	})
	assert.Equal(t,
		"PR analysis identified 1 critical issues that must be addressed before merge. 1 additional findings and 0 recommendations provided.",
		critical.Summary)
}

func TestCrossRecommendations(t *testing.T) {
	recs := CrossRecommendations(Signals{
		HighImpact:     true,
		CriticalIssues: true,
		Regressions:    true,
		ChangedModels:  []string{"model.shop.orders", "model.shop.customers"},
		UntestedModels: []string{"model.shop.orders"},
	})

	require.Len(t, recs, 3)
	assert.Equal(t, recSplitPR, recs[0])
	assert.Equal(t, recCompoundRegressions, recs[1])
	assert.Equal(t,
		"Changed models lack adequate testing: model.shop.orders. Add tests before merge to prevent downstream issues.",
		recs[2])

	assert.Empty(t, CrossRecommendations(Signals{Regressions: true}))
}

func TestCrossRecommendations_UntestedMatchesExactID(t *testing.T) {
	recs := CrossRecommendations(Signals{
		ChangedModels:  []string{"model.shop.orders", "model.shop.stg_orders"},
		UntestedModels: []string{"model.shop.stg_orders"},
	})

	require.Len(t, recs, 1)
	assert.Equal(t,
		"Changed models lack adequate testing: model.shop.stg_orders. Add tests before merge to prevent downstream issues.",
		recs[0])
}

func TestMergeRecommendations_Deduplicates(t *testing.T) {
	recs := MergeRecommendations([]Report{
		&fakeReport{recs: []string{"x", "y"}},
		&fakeReport{recs: []string{"y", "z"}},
	}, Signals{HighImpact: true, CriticalIssues: true})

	assert.Equal(t, []string{"x", "y", "z", recSplitPR}, recs)
}

func TestRun_SignalsDriveVerdict(t *testing.T) {
	o := newTestOrchestrator(t, fastConfig(), bus.New(bus.WithLogger(quietLogger())),
		&fakeRoutine{name: "impact", report: &fakeReport{
			level:   risk.High,
			signals: Signals{HighImpact: true, ChangedModels: []string{"model.shop.orders"}},
		}},
		&fakeRoutine{name: "quality", report: &fakeReport{
			level:    risk.Low,
			critical: []string{"Critical quality issues detected requiring immediate attention"},
			signals:  Signals{CriticalIssues: true, UntestedModels: []string{"model.shop.orders"}},
		}},
	)

	merged, err := o.Run(context.Background(), testInput(t))
	require.NoError(t, err)

	assert.Equal(t, risk.High, merged.OverallRisk)
	assert.Equal(t, Blocked, merged.ApprovalStatus)
	assert.Contains(t, merged.Recommendations, recSplitPR)
	assert.Len(t, merged.ExecutiveSummary.CriticalIssues, 1)
}
