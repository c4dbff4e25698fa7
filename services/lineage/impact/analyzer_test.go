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
	"reflect"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustBuild(t *testing.T, nodes []graph.Node, edges []graph.Edge) *graph.Store {
	t.Helper()
	s, err := graph.Build(nodes, edges, graph.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return s
}

// buildChainGraph creates raw → B → C → D where B and D are models and C
// is a test, so D is downstream of B only via C.
func buildChainGraph(t *testing.T, dAttrs map[string]any) *graph.Store {
	t.Helper()
	return mustBuild(t,
		[]graph.Node{
			{ID: "source.shop.raw", Kind: graph.KindSource},
			{ID: "model.shop.b", Kind: graph.KindModel, FilePath: "models/b.sql"},
			{ID: "test.shop.c", Kind: graph.KindTest},
			{ID: "model.shop.d", Kind: graph.KindModel, Attributes: dAttrs},
		},
		[]graph.Edge{
			{From: "source.shop.raw", To: "model.shop.b"},
			{From: "model.shop.b", To: "test.shop.c"},
			{From: "test.shop.c", To: "model.shop.d"},
		},
	)
}

func TestAnalyzeDownstream_ClassifiesByKind(t *testing.T) {
	s := buildChainGraph(t, nil)
	a := NewAnalyzer(graph.NewQuerier(s), quietLogger())

	impact, err := a.AnalyzeDownstream([]string{"model.shop.b"})
	if err != nil {
		t.Fatalf("AnalyzeDownstream failed: %v", err)
	}

	if !reflect.DeepEqual(impact.Models, []string{"model.shop.d"}) {
		t.Errorf("Models = %v, want [model.shop.d]", impact.Models)
	}
	if !reflect.DeepEqual(impact.Tests, []string{"test.shop.c"}) {
		t.Errorf("Tests = %v, want [test.shop.c]", impact.Tests)
	}
	if len(impact.Sources) != 0 {
		t.Errorf("Sources = %v, want none", impact.Sources)
	}
	if len(impact.WarehouseImpacts) != 0 {
		t.Errorf("WarehouseImpacts = %v, want none for unknown platform", impact.WarehouseImpacts)
	}

	// models*3 + tests*1 + sources*2
	if got := CalculateScore(impact, 0); got != 4 {
		t.Errorf("CalculateScore = %v, want 4", got)
	}
}

func TestAnalyzeDownstream_ScoreIncludesWarehouseSeverity(t *testing.T) {
	s := buildChainGraph(t, map[string]any{
		"database":     "analytics-bq",
		"materialized": "incremental",
	})
	a := NewAnalyzer(graph.NewQuerier(s), quietLogger())

	impact, err := a.AnalyzeDownstream([]string{"model.shop.b"})
	if err != nil {
		t.Fatalf("AnalyzeDownstream failed: %v", err)
	}
	if len(impact.WarehouseImpacts) != 1 {
		t.Fatalf("WarehouseImpacts = %d, want 1", len(impact.WarehouseImpacts))
	}
	wi := impact.WarehouseImpacts[0]
	if wi.Platform != PlatformBigQuery || wi.Severity != risk.SeverityHigh || wi.ModelID != "model.shop.d" {
		t.Errorf("unexpected warehouse impact %+v", wi)
	}

	// 1 model*3 + 1 test*1 + High(4)
	if got := CalculateScore(impact, 0); got != 8 {
		t.Errorf("CalculateScore = %v, want 8", got)
	}
	// normalized node term (4/10*100 = 40) plus unnormalized warehouse term
	if got := CalculateScore(impact, 10); got != 44 {
		t.Errorf("CalculateScore normalized = %v, want 44", got)
	}
}

func TestAnalyzeDownstream_DropsUnknownKinds(t *testing.T) {
	s := mustBuild(t,
		[]graph.Node{
			{ID: "model.a", Kind: graph.KindModel},
			{ID: "seed.b", Kind: graph.Kind("seed")},
			{ID: "model.c", Kind: graph.KindModel},
		},
		[]graph.Edge{{From: "model.a", To: "seed.b"}, {From: "seed.b", To: "model.c"}},
	)
	a := NewAnalyzer(graph.NewQuerier(s), quietLogger())

	impact, err := a.AnalyzeDownstream([]string{"model.a"})
	if err != nil {
		t.Fatalf("AnalyzeDownstream failed: %v", err)
	}
	if impact.TotalAffected() != 1 || impact.Models[0] != "model.c" {
		t.Errorf("impact = %+v, want only model.c", impact)
	}
}

func TestAnalyzeDownstream_DeduplicatesAcrossChangedNodes(t *testing.T) {
	s := mustBuild(t,
		[]graph.Node{
			{ID: "a", Kind: graph.KindModel},
			{ID: "b", Kind: graph.KindModel},
			{ID: "c", Kind: graph.KindModel, Attributes: map[string]any{"database": "snowflake_prod", "cluster_by": []any{"id"}}},
		},
		[]graph.Edge{{From: "a", To: "c"}, {From: "b", To: "c"}},
	)
	a := NewAnalyzer(graph.NewQuerier(s), quietLogger())

	impact, err := a.AnalyzeDownstream([]string{"a", "b"})
	if err != nil {
		t.Fatalf("AnalyzeDownstream failed: %v", err)
	}
	if len(impact.Models) != 1 {
		t.Errorf("Models = %v, want [c]", impact.Models)
	}
	if len(impact.WarehouseImpacts) != 1 {
		t.Errorf("WarehouseImpacts = %d, want 1 per model", len(impact.WarehouseImpacts))
	}
}

func TestAnalyzeDownstream_UnknownID(t *testing.T) {
	s := buildChainGraph(t, nil)
	a := NewAnalyzer(graph.NewQuerier(s), quietLogger())

	_, err := a.AnalyzeDownstream([]string{"model.shop.missing"})
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestAssessRisk(t *testing.T) {
	many := func(prefix string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("%s%d", prefix, i)
		}
		return out
	}

	tests := []struct {
		name   string
		score  float64
		impact *DownstreamImpact
		want   risk.Level
	}{
		{"low", 9.9, &DownstreamImpact{}, risk.Low},
		{"medium boundary", 10, &DownstreamImpact{}, risk.Medium},
		{"high boundary", 25, &DownstreamImpact{}, risk.High},
		{"critical boundary", 50, &DownstreamImpact{}, risk.Critical},
		{"many models caps at high", 99, &DownstreamImpact{Models: many("m", 11)}, risk.High},
		{"many tests caps at high", 99, &DownstreamImpact{Tests: many("t", 21)}, risk.High},
		{"ten models uses score", 5, &DownstreamImpact{Models: many("m", 10)}, risk.Low},
		{"critical warehouse wins", 0, &DownstreamImpact{
			Models:           many("m", 11),
			WarehouseImpacts: []WarehouseImpact{{Severity: risk.SeverityCritical}},
		}, risk.Critical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessRisk(tt.score, tt.impact); got != tt.want {
				t.Errorf("AssessRisk(%v) = %s, want %s", tt.score, got, tt.want)
			}
		})
	}
}

func TestRecommendations(t *testing.T) {
	impact := &DownstreamImpact{
		Models: make([]string, 12),
		Tests:  make([]string, 25),
		WarehouseImpacts: []WarehouseImpact{
			{Recommendations: []string{"Table materialization - changes will trigger full rebuild"}},
		},
	}

	recs := Recommendations(risk.High, impact)
	want := []string{
		"High impact change. Ensure thorough testing of all affected downstream models.",
		"Consider running a full refresh of the 12 affected downstream models after deployment.",
		"Large number of tests affected (25). Ensure CI/CD pipeline has sufficient time for test execution.",
		"Table materialization - changes will trigger full rebuild",
	}
	if !reflect.DeepEqual(recs, want) {
		t.Errorf("Recommendations =\n%q\nwant\n%q", recs, want)
	}

	low := Recommendations(risk.Low, &DownstreamImpact{})
	if len(low) != 1 || !strings.HasPrefix(low[0], "Low impact change.") {
		t.Errorf("low recommendations = %q", low)
	}
}

func TestImpactDepth_FlagsCycles(t *testing.T) {
	s := mustBuild(t,
		[]graph.Node{
			{ID: "a", Kind: graph.KindModel},
			{ID: "b", Kind: graph.KindModel},
			{ID: "c", Kind: graph.KindModel},
			{ID: "x", Kind: graph.KindModel},
			{ID: "y", Kind: graph.KindModel},
		},
		[]graph.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", To: "b"}, {From: "x", To: "y"}},
	)
	a := NewAnalyzer(graph.NewQuerier(s), quietLogger())

	depths, approx, err := a.ImpactDepth(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("ImpactDepth failed: %v", err)
	}
	if approx || depths["x"] != 1 {
		t.Errorf("x: depth=%d approx=%v, want 1 false", depths["x"], approx)
	}

	_, approx, err = a.ImpactDepth(context.Background(), []string{"x", "a"})
	if err != nil {
		t.Fatalf("ImpactDepth failed: %v", err)
	}
	if !approx {
		t.Error("expected approximate depth when a changed node reaches a cycle")
	}
}

func TestAnalyze_Report(t *testing.T) {
	s := buildChainGraph(t, map[string]any{"database": "prod_redshift", "materialized": "table", "dist_key": "id"})

	report, err := Analyze(context.Background(), s, []string{"source.shop.raw"}, 0, quietLogger())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// 2 models*3 + 1 test + Medium(2)
	if report.ImpactScore != 9 {
		t.Errorf("ImpactScore = %v, want 9", report.ImpactScore)
	}
	if report.Risk != risk.Low {
		t.Errorf("Risk = %s, want LOW", report.Risk)
	}
	if report.TotalAffected != 3 {
		t.Errorf("TotalAffected = %d, want 3", report.TotalAffected)
	}
	if report.ImpactDepth["source.shop.raw"] != 3 {
		t.Errorf("ImpactDepth = %v, want 3", report.ImpactDepth)
	}
	if report.Radius["model.shop.d"] != 3 {
		t.Errorf("Radius = %v", report.Radius)
	}
	if len(report.KeyFindings()) != 0 {
		t.Errorf("KeyFindings = %v, want none for low impact", report.KeyFindings())
	}
	last := report.Recommendations()[len(report.Recommendations())-1]
	if last != "Table materialization - consider VACUUM and ANALYZE after changes" {
		t.Errorf("last recommendation = %q", last)
	}
}

func TestAnalyze_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Analyze(ctx, buildChainGraph(t, nil), []string{"model.shop.b"}, 0, quietLogger()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAnalyze_DeadlineEndsCyclicDepthWalk(t *testing.T) {
	const layers = 40
	var nodes []graph.Node
	var edges []graph.Edge
	id := func(layer, j int) string { return fmt.Sprintf("model.shop.l%d_%d", layer, j) }
	for i := 0; i < layers; i++ {
		for j := 0; j < 2; j++ {
			nodes = append(nodes, graph.Node{ID: id(i, j), Kind: graph.KindModel})
			if i+1 < layers {
				edges = append(edges, graph.Edge{From: id(i, j), To: id(i+1, 0)}, graph.Edge{From: id(i, j), To: id(i+1, 1)})
			}
		}
	}
	edges = append(edges, graph.Edge{From: id(layers-1, 0), To: id(0, 0)})
	s := mustBuild(t, nodes, edges)

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Analyze(ctx, s, []string{id(0, 0)}, 0, quietLogger())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Analyze took %v after the deadline", elapsed)
	}

	spans := recorder.Ended()
	if len(spans) == 0 {
		t.Fatal("no impact.Analyze span recorded")
	}
	last := spans[len(spans)-1]
	found := false
	for _, kv := range last.Attributes() {
		if kv.Key == "impact.success" {
			found = true
			if kv.Value.AsBool() {
				t.Error("impact.success = true on a timed-out analysis")
			}
		}
	}
	if !found {
		t.Error("timed-out analysis span has no impact.success attribute")
	}
}

func TestReport_HighImpactFindings(t *testing.T) {
	r := &Report{Risk: risk.Critical, TotalAffected: 42, DirectlyAffected: []string{"model.shop.orders"}}

	findings := r.KeyFindings()
	if len(findings) != 1 || findings[0] != "High impact changes affecting 42 downstream resources" {
		t.Errorf("KeyFindings = %q", findings)
	}
	sig := r.Signals()
	if !sig.HighImpact || !reflect.DeepEqual(sig.ChangedModels, []string{"model.shop.orders"}) {
		t.Errorf("Signals = %+v", sig)
	}
}

func TestRoutine_RunPublishesEvents(t *testing.T) {
	b := bus.New(bus.WithLogger(quietLogger()))
	r := NewRoutine(WithBus(b), WithLogger(quietLogger()))

	rep, err := r.Run(context.Background(), &orchestrator.Input{
		Graph:      buildChainGraph(t, nil),
		ChangedIDs: []string{"model.shop.b"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.RiskLevel() != risk.Low {
		t.Errorf("RiskLevel = %s, want LOW", rep.RiskLevel())
	}

	events := b.History(bus.HistoryFilter{Source: EventSource})
	if len(events) != 2 || events[0].Type != "impact_analysis_started" || events[1].Type != "impact_analysis_completed" {
		t.Errorf("unexpected events %+v", events)
	}
	if err := r.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
