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
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
)

var (
	reviewChanges changeFlags

	reviewManifest   string
	reviewBaseline   string
	reviewCurrent    string
	reviewJSON       bool
	reviewSequential bool
	reviewFailFast   bool
	reviewTimeout    time.Duration
	reviewRetries    int

	reviewRepo   string
	reviewPR     int
	reviewTitle  string
	reviewAuthor string
	reviewHead   string
)

var reviewCmd = &cobra.Command{
	Use:   "review [files...]",
	Short: "Run a full lineage review of a change",
	Long: `Run the impact, quality and performance routines over a change and
print a merged verdict.

Change Detection:
  --base main        Changes since the merge base with main (default)
  --diff             Uncommitted changes
  --staged           Staged changes
  --commit abc123    One commit
  --patch pr.diff    A unified diff file ('-' for stdin)
  [files...]         Explicit project-relative paths

Examples:
  lineage review --manifest target/manifest.json --base main
  lineage review --patch pr.diff --baseline-results prod/run_results.json \
      --current-results target/run_results.json --json

CI/CD Integration:
  Exits 1 when the verdict is BLOCKED or CHANGES_REQUESTED.`,
	Args: cobra.ArbitraryArgs,
	RunE: runReview,
}

func init() {
	reviewChanges.register(reviewCmd)

	f := reviewCmd.Flags()
	f.StringVar(&reviewManifest, "manifest", "", "Manifest location, local path or gs://bucket/object (default from config)")
	f.StringVar(&reviewBaseline, "baseline-results", "", "Baseline run_results.json")
	f.StringVar(&reviewCurrent, "current-results", "", "Current run_results.json")
	f.BoolVar(&reviewJSON, "json", false, "Print the merged report as JSON")
	f.BoolVar(&reviewSequential, "sequential", false, "Run routines one after another")
	f.BoolVar(&reviewFailFast, "fail-fast", false, "Do not retry failed routines")
	f.DurationVar(&reviewTimeout, "timeout", 0, "Per-attempt routine timeout in whole seconds, e.g. 90s or 5m (default from config)")
	f.IntVar(&reviewRetries, "retries", 0, "Maximum attempts per routine (default from config)")

	f.StringVar(&reviewRepo, "repository", "", "Repository name for the report")
	f.IntVar(&reviewPR, "pr", 0, "Pull request number for the report")
	f.StringVar(&reviewTitle, "title", "", "Pull request title for the report")
	f.StringVar(&reviewAuthor, "author", "", "Pull request author for the report")
	f.StringVar(&reviewHead, "head", "", "Head branch for the report")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := applyReviewFlags(cmd); err != nil {
		return err
	}

	files, err := reviewChanges.resolve(ctx, args)
	if err != nil {
		return err
	}

	svc := review.New(cfg, review.WithBus(bus.Default()), review.WithLogger(logger.Slog()))
	defer svc.Close()

	res, err := svc.Review(ctx, review.Request{
		ManifestPath:    reviewManifest,
		Changes:         files,
		BaselineResults: reviewBaseline,
		CurrentResults:  reviewCurrent,
		Context: orchestrator.ReviewContext{
			Repository: reviewRepo,
			PRNumber:   reviewPR,
			Title:      reviewTitle,
			Author:     reviewAuthor,
			BaseBranch: reviewChanges.branch,
			HeadBranch: reviewHead,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reviewJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		renderReview(ux.NewPrinter(out), res)
	}

	if res.Report.ShouldBlockMerge() {
		return &exitError{code: exitGate}
	}
	return nil
}

var errTimeoutResolution = errors.New("--timeout must be a positive whole number of seconds")

// applyReviewFlags overlays explicitly set flags on the loaded config.
func applyReviewFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("sequential") {
		cfg.Orchestrator.ParallelExecution = !reviewSequential
	}
	if f.Changed("fail-fast") {
		cfg.Orchestrator.FailFast = reviewFailFast
	}
	if f.Changed("timeout") {
		if reviewTimeout < time.Second || reviewTimeout%time.Second != 0 {
			return errTimeoutResolution
		}
		cfg.Orchestrator.TimeoutSeconds = int(reviewTimeout / time.Second)
	}
	if f.Changed("retries") && reviewRetries >= 0 {
		cfg.Orchestrator.MaxRetries = reviewRetries
	}
	return nil
}
