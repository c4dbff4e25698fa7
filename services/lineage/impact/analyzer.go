// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact computes the downstream blast radius of changed nodes.
//
// For every changed node the analyzer collects all descendants in the
// lineage graph, classifies them by kind, evaluates warehouse heuristics
// for affected models, and turns the result into a score and a risk level.
package impact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// Score weights per affected node kind.
const (
	ModelWeight  = 3.0
	TestWeight   = 1.0
	SourceWeight = 2.0
)

// Affected-count limits that raise risk to High.
const (
	HighModelCount = 10
	HighTestCount  = 20
)

// DownstreamImpact is the categorized set of nodes reachable from the
// changed nodes. Lists are sorted and free of duplicates.
type DownstreamImpact struct {
	Models           []string          `json:"models"`
	Tests            []string          `json:"tests"`
	Sources          []string          `json:"sources"`
	WarehouseImpacts []WarehouseImpact `json:"warehouse_impacts"`
}

// TotalAffected returns the number of classified downstream nodes.
func (d *DownstreamImpact) TotalAffected() int {
	return len(d.Models) + len(d.Tests) + len(d.Sources)
}

// Analyzer answers impact questions over one graph.
//
// Thread Safety: Analyzer is safe for concurrent use; the graph is
// read-only.
type Analyzer struct {
	querier *graph.Querier
	logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer over q. A nil logger means slog.Default().
func NewAnalyzer(q *graph.Querier, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{querier: q, logger: logger}
}

// AnalyzeDownstream classifies every descendant of the changed nodes.
//
// Description:
//
//	Models are evaluated once each against the warehouse heuristics, in
//	sorted order. Descendants of any other kind are logged and dropped.
//	A changed node that is itself downstream of another changed node is
//	counted like any other descendant.
//
// Outputs:
//
//	*DownstreamImpact - The classified impact.
//	error - graph.ErrNodeNotFound if a changed id is not in the graph.
func (a *Analyzer) AnalyzeDownstream(changed []string) (*DownstreamImpact, error) {
	store := a.querier.Store()
	models := make(map[string]bool)
	tests := make(map[string]bool)
	sources := make(map[string]bool)

	for _, id := range changed {
		desc, err := a.querier.Descendants(id)
		if err != nil {
			return nil, fmt.Errorf("downstream of %s: %w", id, err)
		}
		for _, d := range desc {
			n, err := store.Node(d)
			if err != nil {
				return nil, err
			}
			switch n.Kind {
			case graph.KindModel:
				models[d] = true
			case graph.KindTest:
				tests[d] = true
			case graph.KindSource:
				sources[d] = true
			default:
				a.logger.Warn("unclassified downstream node",
					slog.String("node_id", d),
					slog.String("kind", string(n.Kind)),
				)
			}
		}
	}

	impact := &DownstreamImpact{
		Models:           sortedKeys(models),
		Tests:            sortedKeys(tests),
		Sources:          sortedKeys(sources),
		WarehouseImpacts: []WarehouseImpact{},
	}
	for _, id := range impact.Models {
		n, err := store.Node(id)
		if err != nil {
			return nil, err
		}
		if wi, ok := AnalyzeWarehouse(n); ok {
			impact.WarehouseImpacts = append(impact.WarehouseImpacts, wi)
		}
	}

	a.logger.Debug("downstream impact analyzed",
		slog.Int("models", len(impact.Models)),
		slog.Int("tests", len(impact.Tests)),
		slog.Int("sources", len(impact.Sources)),
		slog.Int("warehouse_impacts", len(impact.WarehouseImpacts)),
	)
	return impact, nil
}

// ImpactDepth returns, for each changed id, the depth of the longest chain
// below it. approximate is true when any changed id reaches a cycle, in
// which case depths are truncated at the cycle. A cancelled ctx ends the
// walk with ctx.Err().
func (a *Analyzer) ImpactDepth(ctx context.Context, changed []string) (map[string]int, bool, error) {
	depths := make(map[string]int, len(changed))
	approximate := false
	for _, id := range changed {
		d, err := a.querier.MaxDepthContext(ctx, id)
		if err != nil {
			return nil, false, err
		}
		depths[id] = d

		cyclic, err := a.querier.ReachesCycle(id)
		if err != nil {
			return nil, false, err
		}
		approximate = approximate || cyclic
	}
	return depths, approximate, nil
}

// CalculateScore weights affected nodes and adds the warehouse severity sum.
//
// When totalProjectSize is positive the node term is scaled to 0..100 of
// the project; the warehouse term is added unscaled in both cases, so the
// normalized score can exceed 100.
func CalculateScore(impact *DownstreamImpact, totalProjectSize int) float64 {
	weighted := float64(len(impact.Models))*ModelWeight +
		float64(len(impact.Tests))*TestWeight +
		float64(len(impact.Sources))*SourceWeight

	if totalProjectSize > 0 {
		weighted = weighted / float64(totalProjectSize) * 100
	}

	var warehouse float64
	for _, wi := range impact.WarehouseImpacts {
		warehouse += wi.Severity.Weight()
	}
	return weighted + warehouse
}

// AssessRisk classifies a score.
//
// A Critical warehouse impact wins outright. Otherwise more than
// HighModelCount models or HighTestCount tests yields High, even when the
// score alone would be Critical. Only then do the score thresholds apply:
// ≥50 Critical, ≥25 High, ≥10 Medium.
func AssessRisk(score float64, impact *DownstreamImpact) risk.Level {
	for _, wi := range impact.WarehouseImpacts {
		if wi.Severity == risk.SeverityCritical {
			return risk.Critical
		}
	}
	if len(impact.Models) > HighModelCount || len(impact.Tests) > HighTestCount {
		return risk.High
	}
	switch {
	case score >= 50:
		return risk.Critical
	case score >= 25:
		return risk.High
	case score >= 10:
		return risk.Medium
	default:
		return risk.Low
	}
}

// Recommendations returns the advice for a level and impact: one line for
// the risk tier, volume warnings, then the warehouse recommendations.
func Recommendations(level risk.Level, impact *DownstreamImpact) []string {
	var recs []string
	switch level {
	case risk.Critical:
		recs = append(recs, "Critical impact detected! This change affects a large number of downstream resources. "+
			"Consider breaking this into smaller, incremental changes.")
	case risk.High:
		recs = append(recs, "High impact change. Ensure thorough testing of all affected downstream models.")
	case risk.Medium:
		recs = append(recs, "Medium impact change. Review affected models and tests before merging.")
	default:
		recs = append(recs, "Low impact change. Standard review process is sufficient.")
	}

	if len(impact.Models) > HighModelCount {
		recs = append(recs, fmt.Sprintf(
			"Consider running a full refresh of the %d affected downstream models after deployment.",
			len(impact.Models)))
	}
	if len(impact.Tests) > HighTestCount {
		recs = append(recs, fmt.Sprintf(
			"Large number of tests affected (%d). Ensure CI/CD pipeline has sufficient time for test execution.",
			len(impact.Tests)))
	}
	for _, wi := range impact.WarehouseImpacts {
		recs = append(recs, wi.Recommendations...)
	}
	return recs
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
