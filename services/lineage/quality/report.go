// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quality

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// Issue is a single quality finding.
type Issue struct {
	FilePath   string        `json:"file_path"`
	IssueType  string        `json:"issue_type"`
	Severity   risk.Severity `json:"severity"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// SQLResult covers template and SQL style checks.
type SQLResult struct {
	SyntaxErrors           []Issue `json:"syntax_errors"`
	ComplexityIssues       []Issue `json:"complexity_issues"`
	BestPracticeViolations []Issue `json:"best_practice_violations"`
	Score                  float64 `json:"score"`
}

// DocumentationResult covers model and column descriptions.
type DocumentationResult struct {
	MissingDescriptions  []string `json:"missing_descriptions"`
	IncompleteColumnDocs []string `json:"incomplete_column_docs"`
	CompletenessScore    float64  `json:"completeness_score"`
}

// CoverageResult covers tests attached to changed models.
type CoverageResult struct {
	ModelsWithoutTests  []string `json:"models_without_tests"`
	UntestedModelIDs    []string `json:"untested_model_ids"`
	TestRecommendations []string `json:"test_recommendations"`
	CoveragePercentage  float64  `json:"coverage_percentage"`
}

// StandardsResult covers project naming conventions.
type StandardsResult struct {
	NamingViolations []Issue `json:"naming_violations"`
	ComplianceScore  float64 `json:"compliance_score"`
}

// SchemaChangeType classifies a schema change.
type SchemaChangeType string

const (
	ModelRemoved SchemaChangeType = "model_removed"
	ModelRenamed SchemaChangeType = "model_renamed"
	ModelAdded   SchemaChangeType = "model_added"
)

// SchemaChange is a change to the set of relations a project exposes.
type SchemaChange struct {
	ModelName         string           `json:"model_name"`
	ChangeType        SchemaChangeType `json:"change_type"`
	OldValue          string           `json:"old_value,omitempty"`
	NewValue          string           `json:"new_value,omitempty"`
	ImpactDescription string           `json:"impact_description"`
}

// SchemaResult separates breaking from additive changes.
type SchemaResult struct {
	BreakingChanges   []SchemaChange `json:"breaking_changes"`
	CompatibleChanges []SchemaChange `json:"backward_compatible_changes"`
	RiskAssessment    risk.Level     `json:"risk_assessment"`
}

// Report is the result of the quality routine.
type Report struct {
	ID            uuid.UUID           `json:"id"`
	GeneratedAt   time.Time           `json:"generated_at"`
	SQL           SQLResult           `json:"sql_quality"`
	Documentation DocumentationResult `json:"documentation_quality"`
	Coverage      CoverageResult      `json:"test_coverage"`
	Standards     StandardsResult     `json:"standards_compliance"`
	Schema        SchemaResult        `json:"schema_validation"`
	OverallScore  float64             `json:"overall_score"`
	Recs          []string            `json:"recommendations"`
}

// HasCriticalIssues reports a critical syntax error or any breaking change.
func (r *Report) HasCriticalIssues() bool {
	for _, issue := range r.SQL.SyntaxErrors {
		if issue.Severity == risk.SeverityCritical {
			return true
		}
	}
	return len(r.Schema.BreakingChanges) > 0
}

// TotalIssues counts every finding except schema changes.
func (r *Report) TotalIssues() int {
	return len(r.SQL.SyntaxErrors) +
		len(r.SQL.ComplexityIssues) +
		len(r.SQL.BestPracticeViolations) +
		len(r.Documentation.MissingDescriptions) +
		len(r.Documentation.IncompleteColumnDocs) +
		len(r.Standards.NamingViolations)
}

// RiskLevel implements orchestrator.Report: Critical with critical issues,
// High below a score of 50, Medium below 75, otherwise Low.
func (r *Report) RiskLevel() risk.Level {
	switch {
	case r.HasCriticalIssues():
		return risk.Critical
	case r.OverallScore < 50:
		return risk.High
	case r.OverallScore < 75:
		return risk.Medium
	default:
		return risk.Low
	}
}

// Recommendations implements orchestrator.Report.
func (r *Report) Recommendations() []string { return r.Recs }

// KeyFindings implements orchestrator.FindingsReporter.
func (r *Report) KeyFindings() []string {
	if n := r.TotalIssues(); n > 0 {
		return []string{fmt.Sprintf("%d quality issues identified", n)}
	}
	return nil
}

// CriticalIssues implements orchestrator.CriticalIssueReporter.
func (r *Report) CriticalIssues() []string {
	if r.HasCriticalIssues() {
		return []string{"Critical quality issues detected requiring immediate attention"}
	}
	return nil
}

// Signals implements orchestrator.SignalReporter.
func (r *Report) Signals() orchestrator.Signals {
	return orchestrator.Signals{
		CriticalIssues: r.HasCriticalIssues(),
		UntestedModels: r.Coverage.UntestedModelIDs,
	}
}
