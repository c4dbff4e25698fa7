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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.lineage.orchestrator")
	meter  = otel.Meter("aleutian.lineage.orchestrator")
)

var (
	runLatency      metric.Float64Histogram
	runTotal        metric.Int64Counter
	routineLatency  metric.Float64Histogram
	routineFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"lineage_review_duration_seconds",
			metric.WithDescription("Duration of orchestrated review runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"lineage_review_total",
			metric.WithDescription("Total number of review runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		routineLatency, err = meter.Float64Histogram(
			"lineage_routine_duration_seconds",
			metric.WithDescription("Duration of analysis routines including retries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		routineFailures, err = meter.Int64Counter(
			"lineage_routine_attempt_failures_total",
			metric.WithDescription("Failed routine attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, runID string, mode Mode, routines int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("orchestrator.run_id", runID),
			attribute.String("orchestrator.mode", string(mode)),
			attribute.Int("orchestrator.routines", routines),
		),
	)
}

func startRoutineSpan(ctx context.Context, routine string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.runRoutine",
		trace.WithAttributes(
			attribute.String("orchestrator.routine", routine),
		),
	)
}

func recordRunMetrics(ctx context.Context, duration time.Duration, mode Mode, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("outcome", outcome),
	)
	runLatency.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
}

func recordRoutineMetrics(ctx context.Context, routine string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	routineLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("routine", routine),
		attribute.Bool("success", success),
	))
}

func recordAttemptFailure(ctx context.Context, routine string, timeout bool) {
	if err := initMetrics(); err != nil {
		return
	}
	routineFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("routine", routine),
		attribute.Bool("timeout", timeout),
	))
}
