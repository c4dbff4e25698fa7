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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/config"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
	"github.com/AleutianAI/AleutianLineage/services/lineage/server"
	"github.com/AleutianAI/AleutianLineage/services/lineage/telemetry"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API",
	Long: `Start the HTTP API: POST /v1/review, GET /v1/health, GET /v1/events,
GET /v1/events/stats, GET /v1/events/stream (websocket) and GET /metrics.

With --watch, edits to the config file are applied to later reviews.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the config file when it changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.Slog()
	gin.SetMode(gin.ReleaseMode)

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: "1.0.0",
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	b := bus.New(
		bus.WithLogger(log),
		bus.WithHistoryLimit(cfg.Server.HistoryLimit, bus.DefaultEvictBatch),
	)
	svc := review.New(cfg, review.WithBus(b), review.WithLogger(log))
	defer svc.Close()

	if serveWatch {
		startConfigWatch(ctx, svc, log)
	}

	opts := []server.Option{server.WithLogger(log)}
	if h := telemetry.MetricsHandler(); h != nil {
		opts = append(opts, server.WithMetricsHandler(h))
	}
	return server.New(svc, b, cfg.Server, opts...).Run(ctx)
}

// startConfigWatch applies reloaded orchestrator, gate and manifest
// settings to svc. Listener settings need a restart.
func startConfigWatch(ctx context.Context, svc *review.Service, log *slog.Logger) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Debug("config file absent, not watching", slog.String("path", configPath))
		return
	}
	go func() {
		err := config.Watch(ctx, configPath, log, func(next *config.Config) {
			svc.SetConfig(*next)
		})
		if err != nil {
			log.Warn("config watch stopped", slog.String("error", err.Error()))
		}
	}()
}
