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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/services/lineage/config"
)

// Exit codes.
const (
	// exitGate is returned when a review's verdict should block the merge.
	exitGate = 1

	exitFailure = 2
)

// exitError carries a process exit code without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var (
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Lineage-aware review of dbt pull requests",
	Long: `lineage analyses dbt changes against the project's lineage graph.

It loads target/manifest.json, maps the changed files onto models, tests and
sources, and runs impact, quality and performance routines to produce a
single merge verdict.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFileName,
		"Path to lineage.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"Emit logs as JSON")

	rootCmd.AddCommand(reviewCmd, impactCmd, graphCmd, serveCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	cfg = *loaded
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if jsonLogs {
		cfg.Logging.JSON = true
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}

	logger = logging.New(cfg.LoggingConfig("lineage"))
	slog.SetDefault(logger.Slog())
	return nil
}

func closeLogger() {
	if logger != nil {
		_ = logger.Close()
	}
}
