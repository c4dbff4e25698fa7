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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for impact analysis operations.
var (
	tracer = otel.Tracer("aleutian.lineage.impact")
	meter  = otel.Meter("aleutian.lineage.impact")
)

var (
	analysisLatency metric.Float64Histogram
	analysisTotal   metric.Int64Counter
	impactScores    metric.Float64Histogram
	affectedNodes   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"lineage_impact_duration_seconds",
			metric.WithDescription("Duration of downstream impact analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisTotal, err = meter.Int64Counter(
			"lineage_impact_total",
			metric.WithDescription("Total number of impact analyses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		impactScores, err = meter.Float64Histogram(
			"lineage_impact_score",
			metric.WithDescription("Distribution of impact scores"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		affectedNodes, err = meter.Int64Histogram(
			"lineage_impact_affected_nodes",
			metric.WithDescription("Number of downstream nodes affected by changes"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startAnalysisSpan(ctx context.Context, changed int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "impact.Analyze",
		trace.WithAttributes(
			attribute.Int("impact.changed_count", changed),
		),
	)
}

func setAnalysisSpanResult(span trace.Span, riskLevel string, score float64, affected int, success bool) {
	span.SetAttributes(
		attribute.String("impact.risk_level", riskLevel),
		attribute.Float64("impact.score", score),
		attribute.Int("impact.total_affected", affected),
		attribute.Bool("impact.success", success),
	)
}

func recordAnalysisMetrics(ctx context.Context, duration time.Duration, riskLevel string, score float64, affected int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("risk_level", riskLevel),
		attribute.Bool("success", success),
	)

	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	analysisTotal.Add(ctx, 1, attrs)
	if success {
		impactScores.Record(ctx, score)
		affectedNodes.Record(ctx, int64(affected))
	}
}
