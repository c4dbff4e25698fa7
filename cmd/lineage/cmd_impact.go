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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

var (
	impactChanges   changeFlags
	impactManifest  string
	impactThreshold string
	impactJSON      bool
)

var impactCmd = &cobra.Command{
	Use:   "impact [files...]",
	Short: "Analyse the downstream impact of a change",
	Long: `Run only the impact analysis: downstream models, tests and sources,
warehouse-specific impacts, the impact score and its risk level.

Examples:
  lineage impact models/staging/stg_orders.sql
  lineage impact --base main --threshold medium --json
  (exits 1 if the risk is at or above the threshold)`,
	Args: cobra.ArbitraryArgs,
	RunE: runImpact,
}

func init() {
	impactChanges.register(impactCmd)

	f := impactCmd.Flags()
	f.StringVar(&impactManifest, "manifest", "", "Manifest location (default from config)")
	f.StringVar(&impactThreshold, "threshold", "critical", "Risk level that fails the command: low, medium, high, critical")
	f.BoolVar(&impactJSON, "json", false, "Print the impact report as JSON")
}

func runImpact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	threshold := risk.ParseLevel(impactThreshold)

	files, err := impactChanges.resolve(ctx, args)
	if err != nil {
		return err
	}

	svc := review.New(cfg, review.WithBus(bus.Default()), review.WithLogger(logger.Slog()))
	defer svc.Close()

	rep, res, err := svc.Impact(ctx, review.Request{ManifestPath: impactManifest, Changes: files})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if impactJSON {
		if err := writeJSON(out, rep); err != nil {
			return err
		}
	} else {
		renderImpact(ux.NewPrinter(out), rep, res)
	}

	if rep.Risk.AtLeast(threshold) {
		return &exitError{code: exitGate}
	}
	return nil
}
