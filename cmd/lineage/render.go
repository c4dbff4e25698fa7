// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderReview(p *ux.Printer, res *review.Result) {
	rep := res.Report

	title := "Lineage review"
	if rep.Context.PRNumber > 0 {
		title = fmt.Sprintf("Lineage review: PR #%d", rep.Context.PRNumber)
	}
	if rep.Context.Title != "" {
		title += " " + rep.Context.Title
	}
	p.Title(title)

	status := string(rep.ApprovalStatus)
	level := string(rep.OverallRisk)
	p.Box(fmt.Sprintf("Status: %s\nRisk:   %s",
		p.Style(ux.RiskStyle(status), status),
		p.Style(ux.RiskStyle(level), level),
	))

	p.KV("Changed nodes", strconv.Itoa(len(res.ChangedIDs)))
	if len(res.UnmatchedFiles) > 0 {
		p.KV("Unmatched files", strings.Join(res.UnmatchedFiles, ", "))
	}
	p.KV("Duration", (time.Duration(rep.DurationMs) * time.Millisecond).String())

	summary := rep.ExecutiveSummary
	p.Section("Summary")
	p.Line(summary.Summary)

	if len(summary.KeyFindings) > 0 {
		p.Section("Key findings")
		for _, f := range summary.KeyFindings {
			p.Bullet(f)
		}
	}
	if len(summary.CriticalIssues) > 0 {
		p.Section("Critical issues")
		for _, issue := range summary.CriticalIssues {
			p.Error(issue)
		}
	}
	if len(rep.Recommendations) > 0 {
		p.Section("Recommendations")
		for _, r := range rep.Recommendations {
			p.Bullet(r)
		}
	}

	if len(rep.Reports) > 0 {
		p.Section("Routines")
		names := make([]string, 0, len(rep.Reports))
		for name := range rep.Reports {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			level := string(rep.Reports[name].RiskLevel())
			p.KV(name, p.Style(ux.RiskStyle(level), level))
		}
	}
}

func renderImpact(p *ux.Printer, rep *impact.Report, res *review.Result) {
	p.Title("Impact analysis")

	level := string(rep.Risk)
	p.KV("Risk", p.Style(ux.RiskStyle(level), level))
	p.KV("Impact score", fmt.Sprintf("%.1f", rep.ImpactScore))
	p.KV("Changed nodes", strconv.Itoa(len(res.ChangedIDs)))
	p.KV("Total affected", strconv.Itoa(rep.TotalAffected))
	if len(res.UnmatchedFiles) > 0 {
		p.KV("Unmatched files", strings.Join(res.UnmatchedFiles, ", "))
	}

	list := func(title string, ids []string) {
		if len(ids) == 0 {
			return
		}
		p.Section(fmt.Sprintf("%s (%d)", title, len(ids)))
		for _, id := range ids {
			p.Bullet(id)
		}
	}
	list("Directly affected", rep.DirectlyAffected)
	list("Downstream models", rep.DownstreamModels)
	list("Affected tests", rep.AffectedTests)
	list("Affected sources", rep.AffectedSources)

	if len(rep.ImpactDepth) > 0 {
		p.Section("Impact depth")
		ids := make([]string, 0, len(rep.ImpactDepth))
		for id := range rep.ImpactDepth {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			p.KV(id, strconv.Itoa(rep.ImpactDepth[id]))
		}
		if rep.DepthApproximate {
			p.Warning("depth is approximate: the changed nodes reach a cycle")
		}
	}

	if len(rep.WarehouseImpacts) > 0 {
		p.Section("Warehouse")
		for _, w := range rep.WarehouseImpacts {
			sev := string(w.Severity)
			p.Bullet(fmt.Sprintf("%s %s [%s] %s",
				w.Platform, w.ModelID, p.Style(ux.RiskStyle(sev), sev), w.Description))
		}
	}

	if len(rep.Recs) > 0 {
		p.Section("Recommendations")
		for _, r := range rep.Recs {
			p.Bullet(r)
		}
	}
}
