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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

const (
	recSplitPR = "High-impact changes with quality issues detected. " +
		"Consider splitting PR into smaller changes."
	recCompoundRegressions = "Performance regressions in high-impact changes may compound downstream effects. " +
		"Review optimization opportunities."
	recUntestedFormat = "Changed models lack adequate testing: %s. " +
		"Add tests before merge to prevent downstream issues."
)

// synthesize merges reports, which are in routine order.
func (o *Orchestrator) synthesize(in *Input, reports []Report) *MergedReport {
	merged := &MergedReport{
		GeneratedAt: time.Now().UTC(),
		Context:     in.Context,
		Reports:     make(map[string]Report, len(reports)),
	}

	levels := make([]risk.Level, 0, len(reports))
	var signals Signals
	for i, rep := range reports {
		merged.Reports[o.routines[i].Name()] = rep
		levels = append(levels, rep.RiskLevel())
		if sr, ok := rep.(SignalReporter); ok {
			signals = signals.merge(sr.Signals())
		}
	}
	merged.OverallRisk = risk.Max(levels...)

	merged.ExecutiveSummary = Summarize(reports)
	merged.Recommendations = MergeRecommendations(reports, signals)
	merged.ApprovalStatus = Approval(merged.OverallRisk, signals)
	return merged
}

// Summarize builds the executive summary from reports.
//
// Key findings and critical issues are collected in report order from
// reports implementing FindingsReporter and CriticalIssueReporter. The
// recommendation count is the number of recommendations the routines
// produced themselves.
func Summarize(reports []Report) ExecutiveSummary {
	s := ExecutiveSummary{
		KeyFindings:    []string{},
		CriticalIssues: []string{},
	}
	for _, rep := range reports {
		if fr, ok := rep.(FindingsReporter); ok {
			s.KeyFindings = append(s.KeyFindings, fr.KeyFindings()...)
		}
		if cr, ok := rep.(CriticalIssueReporter); ok {
			s.CriticalIssues = append(s.CriticalIssues, cr.CriticalIssues()...)
		}
		s.RecommendationCount += len(rep.Recommendations())
	}

	if len(s.CriticalIssues) == 0 {
		s.Summary = fmt.Sprintf(
			"PR analysis completed with %d key findings and %d recommendations. "+
				"Overall risk level is appropriate for review.",
			len(s.KeyFindings), s.RecommendationCount)
	} else {
		s.Summary = fmt.Sprintf(
			"PR analysis identified %d critical issues that must be addressed before merge. "+
				"%d additional findings and %d recommendations provided.",
			len(s.CriticalIssues), len(s.KeyFindings), s.RecommendationCount)
	}
	return s
}

// MergeRecommendations returns the union of every report's
// recommendations, in report order and without duplicates, followed by
// recommendations that only arise from combining reports.
func MergeRecommendations(reports []Report, signals Signals) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(rec string) {
		if rec == "" || seen[rec] {
			return
		}
		seen[rec] = true
		out = append(out, rec)
	}

	for _, rep := range reports {
		for _, rec := range rep.Recommendations() {
			add(rec)
		}
	}
	for _, rec := range CrossRecommendations(signals) {
		add(rec)
	}
	return out
}

// CrossRecommendations derives recommendations from merged signals.
func CrossRecommendations(s Signals) []string {
	var recs []string

	if s.HighImpact && s.CriticalIssues {
		recs = append(recs, recSplitPR)
	}
	if s.Regressions && s.HighImpact {
		recs = append(recs, recCompoundRegressions)
	}

	lacking := make(map[string]bool, len(s.UntestedModels))
	for _, id := range s.UntestedModels {
		lacking[id] = true
	}
	var untested []string
	for _, id := range s.ChangedModels {
		if lacking[id] {
			untested = append(untested, id)
		}
	}
	if len(untested) > 0 {
		recs = append(recs, fmt.Sprintf(recUntestedFormat, strings.Join(untested, ", ")))
	}
	return recs
}

// Approval maps the merged risk and signals to a verdict.
func Approval(overall risk.Level, s Signals) ApprovalStatus {
	switch {
	case overall == risk.Critical || s.CriticalIssues:
		return Blocked
	case overall == risk.High:
		return ChangesRequested
	case overall == risk.Medium:
		return ApprovedWithConditions
	default:
		return Approved
	}
}
