// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package performance compares execution times of the models touched by a
// review against a baseline run and estimates the cost effect.
//
// Compute cost is modelled as proportional to execution time, so the cost
// change percentage equals the execution time change percentage of the
// compared models.
package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// RoutineName is the name the performance routine registers under.
const RoutineName = "performance"

// EventSource is the source name of performance events on the bus.
const EventSource = "performance_cost"

// largeAddition is the added line count above which a changed model gets
// a materialization hint.
const largeAddition = 100

// Config holds performance gates and pricing.
type Config struct {
	// MaxCostIncrease and MaxExecTimeIncrease are percentages; exceeding
	// them adds a key finding. Zero disables a gate.
	MaxCostIncrease     float64
	MaxExecTimeIncrease float64

	// CostPerHour converts execution hours to currency. Zero leaves the
	// estimated cost change at zero while percentages are still computed.
	CostPerHour float64
}

// DefaultConfig returns the default gates.
func DefaultConfig() Config {
	return Config{MaxCostIncrease: 25, MaxExecTimeIncrease: 50}
}

// AssessRisk classifies cost and execution time change percentages.
//
// Cost above 50% or execution time above 100% is Critical; above 25% or
// 50% High; above 10% or 20% Medium. Below those, a critical regression
// yields High and a high regression Medium.
func AssessRisk(costChangePct, execTimeChangePct float64, regressions []Regression) risk.Level {
	switch {
	case costChangePct > 50 || execTimeChangePct > 100:
		return risk.Critical
	case costChangePct > 25 || execTimeChangePct > 50:
		return risk.High
	case costChangePct > 10 || execTimeChangePct > 20:
		return risk.Medium
	}

	worst := risk.SeverityLow
	for _, r := range regressions {
		worst = worst.Raise(r.Severity)
	}
	switch worst {
	case risk.SeverityCritical:
		return risk.High
	case risk.SeverityHigh:
		return risk.Medium
	default:
		return risk.Low
	}
}

// RegressionSeverity classifies a change percentage. The second result is
// false when the change is within tolerance (20% or less).
func RegressionSeverity(changePct float64) (risk.Severity, bool) {
	switch {
	case changePct > 100:
		return risk.SeverityCritical, true
	case changePct > 50:
		return risk.SeverityHigh, true
	case changePct > 20:
		return risk.SeverityMedium, true
	default:
		return "", false
	}
}

// Assessor is the performance routine.
type Assessor struct {
	config Config
	bus    bus.Publisher
	logger *slog.Logger
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithBus sets the event bus. Defaults to bus.Default().
func WithBus(p bus.Publisher) Option {
	return func(a *Assessor) { a.bus = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assessor) { a.logger = logger }
}

// NewAssessor creates the performance routine.
func NewAssessor(cfg Config, opts ...Option) *Assessor {
	a := &Assessor{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.bus == nil {
		a.bus = bus.Default()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Name implements orchestrator.Routine.
func (a *Assessor) Name() string { return RoutineName }

// Run implements orchestrator.Routine.
func (a *Assessor) Run(ctx context.Context, in *orchestrator.Input) (orchestrator.Report, error) {
	if in.Graph == nil {
		return nil, errors.New("performance assessment requires a graph")
	}
	a.bus.Emit(EventSource, "performance_assessment_started", map[string]any{
		"pr_number":           in.Context.PRNumber,
		"changed_files_count": len(in.Changes),
	})

	scope, err := modelsInScope(in.Graph, in.ChangedIDs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	analysis := compare(scope, in.BaselineTimes, in.CurrentTimes)
	report := &Report{
		ID:          uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Changes:     analysis,
		Cost:        a.estimateCost(analysis),
	}
	report.Optimizations = optimizations(in, analysis.Regressions)
	report.Risk = AssessRisk(report.Cost.CostChangePercentage, analysis.ExecutionTimePercentage, analysis.Regressions)
	report.GateFindings = a.gateFindings(report)

	a.bus.Emit(EventSource, "performance_assessment_completed", map[string]any{
		"pr_number":              in.Context.PRNumber,
		"cost_change_percentage": report.Cost.CostChangePercentage,
		"risk_level":             report.Risk.String(),
		"optimization_count":     len(report.Optimizations),
	})
	a.logger.Info("performance assessment completed",
		slog.Float64("cost_change_percentage", report.Cost.CostChangePercentage),
		slog.Int("models_compared", analysis.ModelsCompared),
		slog.Int("regressions", len(analysis.Regressions)),
	)
	return report, nil
}

// modelsInScope returns the changed models and every model downstream of
// a changed node, sorted.
func modelsInScope(store *graph.Store, changed []string) ([]string, error) {
	q := graph.NewQuerier(store)
	set := make(map[string]bool)
	for _, id := range changed {
		n, err := store.Node(id)
		if err != nil {
			return nil, err
		}
		if n.Kind == graph.KindModel {
			set[id] = true
		}
		desc, err := q.Descendants(id)
		if err != nil {
			return nil, err
		}
		for _, d := range desc {
			if dn, err := store.Node(d); err == nil && dn.Kind == graph.KindModel {
				set[d] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// compare measures execution time change for models present in both runs.
func compare(scope []string, baseline, current map[string]float64) Analysis {
	res := Analysis{Regressions: []Regression{}}
	var baseTotal, curTotal float64
	for _, id := range scope {
		base, okBase := baseline[id]
		cur, okCur := current[id]
		if !okBase || !okCur {
			continue
		}
		res.ModelsCompared++
		baseTotal += base
		curTotal += cur

		if base <= 0 {
			continue
		}
		pct := (cur - base) / base * 100
		if sev, ok := RegressionSeverity(pct); ok {
			res.Regressions = append(res.Regressions, Regression{
				ModelName:        id,
				MetricName:       "execution_time",
				BaselineValue:    base,
				CurrentValue:     cur,
				ChangePercentage: pct,
				Severity:         sev,
			})
		}
	}
	res.ExecutionTimeChange = curTotal - baseTotal
	if baseTotal > 0 {
		res.ExecutionTimePercentage = res.ExecutionTimeChange / baseTotal * 100
	}
	return res
}

func (a *Assessor) estimateCost(analysis Analysis) CostAnalysis {
	compute := analysis.ExecutionTimeChange / 3600 * a.config.CostPerHour
	cost := CostAnalysis{
		EstimatedCostChange:  compute,
		CostChangePercentage: analysis.ExecutionTimePercentage,
		CostBreakdown: map[string]float64{
			"compute": compute,
			"storage": 0,
			"network": 0,
		},
		CostDrivers: []string{},
	}
	for _, r := range analysis.Regressions {
		cost.CostDrivers = append(cost.CostDrivers, r.ModelName)
	}
	return cost
}

func optimizations(in *orchestrator.Input, regressions []Regression) []Optimization {
	out := []Optimization{}
	for _, f := range in.Changes {
		if strings.HasSuffix(f.Path, ".sql") && strings.Contains(f.Path, "models/") && f.Additions > largeAddition {
			out = append(out, Optimization{
				Type:                 "materialization",
				TargetModel:          f.Path,
				Description:          "Consider materializing as table for better performance with large additions",
				EstimatedImprovement: 25,
				Effort:               EffortLow,
				Priority:             risk.Medium,
			})
		}
	}
	for _, r := range regressions {
		o := Optimization{
			Type:                 "performance_fix",
			TargetModel:          r.ModelName,
			Description:          fmt.Sprintf("Address %s regression: %.1f%% increase in %s", r.ModelName, r.ChangePercentage, r.MetricName),
			EstimatedImprovement: math.Abs(r.ChangePercentage),
			Effort:               EffortLow,
			Priority:             risk.Medium,
		}
		switch r.Severity {
		case risk.SeverityCritical:
			o.Effort, o.Priority = EffortHigh, risk.Critical
		case risk.SeverityHigh:
			o.Effort, o.Priority = EffortMedium, risk.High
		}
		out = append(out, o)
	}
	return out
}

func (a *Assessor) gateFindings(r *Report) []string {
	var out []string
	if g := a.config.MaxExecTimeIncrease; g > 0 && r.Changes.ExecutionTimePercentage > g {
		out = append(out, fmt.Sprintf("Execution time increase of %.1f%% exceeds the %.0f%% gate",
			r.Changes.ExecutionTimePercentage, g))
	}
	if g := a.config.MaxCostIncrease; g > 0 && r.Cost.CostChangePercentage > g {
		out = append(out, fmt.Sprintf("Cost increase of %.1f%% exceeds the %.0f%% gate",
			r.Cost.CostChangePercentage, g))
	}
	return out
}
