// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quality checks the changed models of a review for style,
// documentation, test coverage, naming standards and breaking changes.
//
// Checks are static: SQL is never executed or parsed beyond template
// delimiters.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/manifest"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// RoutineName is the name the quality routine registers under.
const RoutineName = "quality"

// EventSource is the source name of quality events on the bus.
const EventSource = "quality_validation"

// Score weights of the overall quality score.
const (
	sqlWeight       = 0.3
	docWeight       = 0.2
	testWeight      = 0.3
	standardsWeight = 0.2
)

const coverageRecommendation = "Consider adding more tests to improve coverage"

var selectStar = regexp.MustCompile(`(?i)\bselect\s+\*`)

// Config holds quality gates.
type Config struct {
	// MinCoverage is the percentage of changed models that must have a
	// test before a coverage recommendation is raised.
	MinCoverage float64

	// MaxModelLines is the raw code length above which a model is
	// reported as complex.
	MaxModelLines int
}

// DefaultConfig returns the default gates.
func DefaultConfig() Config {
	return Config{MinCoverage: 80, MaxModelLines: 300}
}

// Validator is the quality routine.
type Validator struct {
	config Config
	bus    bus.Publisher
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithBus sets the event bus. Defaults to bus.Default().
func WithBus(p bus.Publisher) Option {
	return func(v *Validator) { v.bus = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator creates the quality routine.
func NewValidator(cfg Config, opts ...Option) *Validator {
	v := &Validator{config: cfg}
	for _, opt := range opts {
		opt(v)
	}
	if v.bus == nil {
		v.bus = bus.Default()
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// Name implements orchestrator.Routine.
func (v *Validator) Name() string { return RoutineName }

// Run implements orchestrator.Routine.
func (v *Validator) Run(ctx context.Context, in *orchestrator.Input) (orchestrator.Report, error) {
	if in.Graph == nil {
		return nil, errors.New("quality validation requires a graph")
	}
	v.bus.Emit(EventSource, "quality_validation_started", map[string]any{
		"pr_number":           in.Context.PRNumber,
		"changed_files_count": len(in.Changes),
	})

	models := changedModels(in)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		ID:            uuid.New(),
		GeneratedAt:   time.Now().UTC(),
		SQL:           v.checkSQL(in.Changes, models),
		Documentation: checkDocumentation(models),
		Coverage:      v.checkCoverage(in.Graph, models),
		Standards:     checkStandards(in.Changes),
		Schema:        checkSchema(in.Changes),
	}
	report.OverallScore = report.SQL.Score*sqlWeight +
		report.Documentation.CompletenessScore*docWeight +
		report.Coverage.CoveragePercentage*testWeight +
		report.Standards.ComplianceScore*standardsWeight
	report.Recs = recommendations(report)

	v.bus.Emit(EventSource, "quality_validation_completed", map[string]any{
		"pr_number":           in.Context.PRNumber,
		"overall_score":       report.OverallScore,
		"total_issues":        report.TotalIssues(),
		"has_critical_issues": report.HasCriticalIssues(),
	})
	v.logger.Info("quality validation completed",
		slog.Float64("overall_score", report.OverallScore),
		slog.Int("total_issues", report.TotalIssues()),
	)
	return report, nil
}

// changedModels returns the changed nodes of kind model, in id order.
func changedModels(in *orchestrator.Input) []graph.Node {
	var out []graph.Node
	seen := make(map[string]bool)
	for _, id := range in.ChangedIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		n, err := in.Graph.Node(id)
		if err != nil || n.Kind != graph.KindModel {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *Validator) checkSQL(changes []changeset.File, models []graph.Node) SQLResult {
	res := SQLResult{
		SyntaxErrors:           []Issue{},
		ComplexityIssues:       []Issue{},
		BestPracticeViolations: []Issue{},
	}

	for _, f := range changes {
		if f.Status == changeset.StatusDeleted || !strings.HasSuffix(f.Path, ".sql") {
			continue
		}
		if strings.Contains(f.Path, "deprecated") {
			res.BestPracticeViolations = append(res.BestPracticeViolations, Issue{
				FilePath:   f.Path,
				IssueType:  "deprecated_usage",
				Severity:   risk.SeverityMedium,
				Message:    "File contains deprecated patterns",
				Suggestion: "Consider updating to current best practices",
			})
		}
	}

	for _, n := range models {
		code := n.StringAttr(manifest.AttrRawCode)
		if code == "" {
			continue
		}
		if msg := unbalancedTemplate(code); msg != "" {
			res.SyntaxErrors = append(res.SyntaxErrors, Issue{
				FilePath:   n.FilePath,
				IssueType:  "template_syntax",
				Severity:   risk.SeverityCritical,
				Message:    msg,
				Suggestion: "Close every Jinja expression and block tag",
			})
		}
		if selectStar.MatchString(code) {
			res.BestPracticeViolations = append(res.BestPracticeViolations, Issue{
				FilePath:   n.FilePath,
				IssueType:  "select_star",
				Severity:   risk.SeverityLow,
				Message:    "Model selects all columns with select *",
				Suggestion: "List columns explicitly so upstream changes do not leak downstream",
			})
		}
		if lines := strings.Count(code, "\n") + 1; v.config.MaxModelLines > 0 && lines > v.config.MaxModelLines {
			res.ComplexityIssues = append(res.ComplexityIssues, Issue{
				FilePath:   n.FilePath,
				IssueType:  "model_length",
				Severity:   risk.SeverityMedium,
				Message:    fmt.Sprintf("Model has %d lines (limit %d)", lines, v.config.MaxModelLines),
				Suggestion: "Split the model into intermediate models",
			})
		}
	}

	if len(res.SyntaxErrors)+len(res.ComplexityIssues)+len(res.BestPracticeViolations) == 0 {
		res.Score = 100
		return res
	}
	penalty := float64(len(res.SyntaxErrors)*20 + len(res.ComplexityIssues)*10 + len(res.BestPracticeViolations)*5)
	res.Score = math.Max(0, 85-penalty)
	return res
}

// unbalancedTemplate returns a message when Jinja delimiters do not pair up.
func unbalancedTemplate(code string) string {
	if open, closed := strings.Count(code, "{{"), strings.Count(code, "}}"); open != closed {
		return fmt.Sprintf("Unbalanced Jinja expression delimiters: %d '{{' and %d '}}'", open, closed)
	}
	if open, closed := strings.Count(code, "{%"), strings.Count(code, "%}"); open != closed {
		return fmt.Sprintf("Unbalanced Jinja block delimiters: %d '{%%' and %d '%%}'", open, closed)
	}
	return ""
}

func checkDocumentation(models []graph.Node) DocumentationResult {
	res := DocumentationResult{
		MissingDescriptions:  []string{},
		IncompleteColumnDocs: []string{},
	}
	for _, n := range models {
		if strings.TrimSpace(n.StringAttr(manifest.AttrDescription)) == "" {
			res.MissingDescriptions = append(res.MissingDescriptions, n.ID)
		}
		cols := manifest.Columns(n)
		names := make([]string, 0, len(cols))
		for name := range cols {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if strings.TrimSpace(cols[name].Description) == "" {
				res.IncompleteColumnDocs = append(res.IncompleteColumnDocs, n.ID+"."+name)
			}
		}
	}

	res.CompletenessScore = 100
	if len(res.MissingDescriptions) > 0 || len(res.IncompleteColumnDocs) > 0 {
		res.CompletenessScore = 75
	}
	return res
}

// checkCoverage counts changed models with at least one direct test.
func (v *Validator) checkCoverage(store *graph.Store, models []graph.Node) CoverageResult {
	res := CoverageResult{
		ModelsWithoutTests:  []string{},
		UntestedModelIDs:    []string{},
		TestRecommendations: []string{},
		CoveragePercentage:  100,
	}
	if len(models) == 0 {
		return res
	}

	covered := 0
	for _, n := range models {
		dependents, err := store.NeighborsOut(n.ID)
		if err != nil {
			continue
		}
		tested := false
		for _, d := range dependents {
			if dn, err := store.Node(d); err == nil && dn.Kind == graph.KindTest {
				tested = true
				break
			}
		}
		if tested {
			covered++
		} else {
			res.ModelsWithoutTests = append(res.ModelsWithoutTests, modelName(n))
			res.UntestedModelIDs = append(res.UntestedModelIDs, n.ID)
		}
	}

	res.CoveragePercentage = float64(covered) / float64(len(models)) * 100
	if res.CoveragePercentage < v.config.MinCoverage {
		res.TestRecommendations = append(res.TestRecommendations, coverageRecommendation)
	}
	return res
}

func checkStandards(changes []changeset.File) StandardsResult {
	res := StandardsResult{NamingViolations: []Issue{}}
	for _, f := range changes {
		if f.Status == changeset.StatusDeleted || !f.IsModel() {
			continue
		}
		dir := "/" + f.Path
		stem := f.Stem()
		switch {
		case strings.Contains(dir, "/staging/") && !strings.HasPrefix(stem, "stg_"):
			res.NamingViolations = append(res.NamingViolations, Issue{
				FilePath:   f.Path,
				IssueType:  "naming_convention",
				Severity:   risk.SeverityLow,
				Message:    fmt.Sprintf("Staging model %s should use the stg_ prefix", stem),
				Suggestion: "Rename the model to stg_" + stem,
			})
		case strings.Contains(dir, "/marts/") && strings.HasPrefix(stem, "stg_"):
			res.NamingViolations = append(res.NamingViolations, Issue{
				FilePath:   f.Path,
				IssueType:  "naming_convention",
				Severity:   risk.SeverityLow,
				Message:    fmt.Sprintf("Mart model %s should not use the stg_ prefix", stem),
				Suggestion: "Move the model to staging or drop the stg_ prefix",
			})
		}
	}
	res.ComplianceScore = math.Max(0, 100-10*float64(len(res.NamingViolations)))
	return res
}

// checkSchema treats removed and renamed model files as breaking, since
// downstream refs to the old relation stop resolving.
func checkSchema(changes []changeset.File) SchemaResult {
	res := SchemaResult{
		BreakingChanges:   []SchemaChange{},
		CompatibleChanges: []SchemaChange{},
		RiskAssessment:    risk.Low,
	}
	for _, f := range changes {
		if !f.IsModel() {
			continue
		}
		switch f.Status {
		case changeset.StatusDeleted:
			name := f.Stem()
			if f.OldPath != "" {
				name = changeset.File{Path: f.OldPath}.Stem()
			}
			res.BreakingChanges = append(res.BreakingChanges, SchemaChange{
				ModelName:         name,
				ChangeType:        ModelRemoved,
				OldValue:          name,
				ImpactDescription: "Model removed; downstream references will fail",
			})
		case changeset.StatusRenamed:
			oldName := changeset.File{Path: f.OldPath}.Stem()
			if oldName == f.Stem() {
				continue
			}
			res.BreakingChanges = append(res.BreakingChanges, SchemaChange{
				ModelName:         f.Stem(),
				ChangeType:        ModelRenamed,
				OldValue:          oldName,
				NewValue:          f.Stem(),
				ImpactDescription: fmt.Sprintf("Model renamed from %s; references to the old name will fail", oldName),
			})
		case changeset.StatusAdded:
			res.CompatibleChanges = append(res.CompatibleChanges, SchemaChange{
				ModelName:         f.Stem(),
				ChangeType:        ModelAdded,
				NewValue:          f.Stem(),
				ImpactDescription: "New model",
			})
		}
	}
	if len(res.BreakingChanges) > 0 {
		res.RiskAssessment = risk.High
	}
	return res
}

// recommendations collects test advice followed by distinct issue
// suggestions.
func recommendations(r *Report) []string {
	recs := append([]string{}, r.Coverage.TestRecommendations...)
	seen := make(map[string]bool)
	groups := [][]Issue{
		r.SQL.SyntaxErrors,
		r.SQL.ComplexityIssues,
		r.SQL.BestPracticeViolations,
		r.Standards.NamingViolations,
	}
	for _, issues := range groups {
		for _, issue := range issues {
			if issue.Suggestion == "" || seen[issue.Suggestion] {
				continue
			}
			seen[issue.Suggestion] = true
			recs = append(recs, issue.Suggestion)
		}
	}
	return recs
}

func modelName(n graph.Node) string {
	if name := n.StringAttr(manifest.AttrName); name != "" {
		return name
	}
	if i := strings.LastIndex(n.ID, "."); i >= 0 {
		return n.ID[i+1:]
	}
	return n.ID
}
