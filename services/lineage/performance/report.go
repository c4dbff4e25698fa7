// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package performance

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// CostAnalysis estimates the compute cost change of the reviewed models.
type CostAnalysis struct {
	EstimatedCostChange  float64            `json:"estimated_cost_change"`
	CostChangePercentage float64            `json:"cost_change_percentage"`
	CostBreakdown        map[string]float64 `json:"cost_breakdown"`
	CostDrivers          []string           `json:"cost_drivers"`
}

// Regression is a model whose execution time grew beyond tolerance.
type Regression struct {
	ModelName        string        `json:"model_name"`
	MetricName       string        `json:"metric_name"`
	BaselineValue    float64       `json:"baseline_value"`
	CurrentValue     float64       `json:"current_value"`
	ChangePercentage float64       `json:"change_percentage"`
	Severity         risk.Severity `json:"severity"`
}

// Analysis compares baseline and current execution times.
type Analysis struct {
	ExecutionTimeChange     float64      `json:"execution_time_change"`
	ExecutionTimePercentage float64      `json:"execution_time_percentage"`
	ModelsCompared          int          `json:"models_compared"`
	Regressions             []Regression `json:"performance_regressions"`
}

// Effort is the expected implementation effort of an optimization.
type Effort string

const (
	EffortLow    Effort = "LOW"
	EffortMedium Effort = "MEDIUM"
	EffortHigh   Effort = "HIGH"
)

// Optimization is a suggested performance improvement.
type Optimization struct {
	Type                 string     `json:"recommendation_type"`
	TargetModel          string     `json:"target_model"`
	Description          string     `json:"description"`
	EstimatedImprovement float64    `json:"estimated_improvement"`
	Effort               Effort     `json:"implementation_effort"`
	Priority             risk.Level `json:"priority"`
}

// Report is the result of the performance routine.
type Report struct {
	ID            uuid.UUID      `json:"id"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Cost          CostAnalysis   `json:"cost_impact"`
	Changes       Analysis       `json:"performance_changes"`
	Optimizations []Optimization `json:"optimization_recommendations"`
	Risk          risk.Level     `json:"risk_assessment"`
	GateFindings  []string       `json:"gate_findings,omitempty"`
}

// HasRegressions reports whether any model regressed.
func (r *Report) HasRegressions() bool {
	return len(r.Changes.Regressions) > 0
}

// RiskLevel implements orchestrator.Report.
func (r *Report) RiskLevel() risk.Level { return r.Risk }

// Recommendations implements orchestrator.Report.
func (r *Report) Recommendations() []string {
	out := make([]string, 0, len(r.Optimizations))
	for _, o := range r.Optimizations {
		out = append(out, o.Description)
	}
	return out
}

// KeyFindings implements orchestrator.FindingsReporter.
func (r *Report) KeyFindings() []string {
	var out []string
	if r.HasRegressions() {
		out = append(out, "Performance regressions detected")
	}
	if math.Abs(r.Cost.CostChangePercentage) > 0.1 {
		out = append(out, fmt.Sprintf("Estimated cost impact: %.1f%%", r.Cost.CostChangePercentage))
	}
	return append(out, r.GateFindings...)
}

// Signals implements orchestrator.SignalReporter.
func (r *Report) Signals() orchestrator.Signals {
	return orchestrator.Signals{Regressions: r.HasRegressions()}
}
