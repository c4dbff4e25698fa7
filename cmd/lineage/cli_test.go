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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

const cliManifest = `{
  "metadata": {"dbt_version": "1.7.4", "adapter_type": "snowflake", "project_name": "shop"},
  "nodes": {
    "model.shop.stg_orders": {
      "name": "stg_orders", "resource_type": "model",
      "original_file_path": "models/staging/stg_orders.sql",
      "depends_on": {"nodes": ["source.shop.raw.orders"]}
    },
    "model.shop.orders": {
      "name": "orders", "resource_type": "model",
      "original_file_path": "models/marts/orders.sql",
      "depends_on": {"nodes": ["model.shop.stg_orders"]}
    },
    "test.shop.not_null_orders_id": {
      "name": "not_null_orders_id", "resource_type": "test",
      "original_file_path": "models/marts/schema.yml",
      "depends_on": {"nodes": ["model.shop.orders"]}
    }
  },
  "sources": {
    "source.shop.raw.orders": {"name": "orders", "resource_type": "source"}
  }
}`

// runCLI executes the root command with a quiet config and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "lineage.yaml")
	if err := os.WriteFile(cfgFile, []byte("logging:\n  quiet: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		graphJSON = false
		graphManifest = ""
		closeLogger()
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(cliManifest), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGraphCommands(t *testing.T) {
	manifestPath := writeManifest(t)

	t.Run("descendants", func(t *testing.T) {
		out, err := runCLI(t, "graph", "descendants", "model.shop.stg_orders", "--manifest", manifestPath, "--json")
		if err != nil {
			t.Fatalf("graph descendants: %v", err)
		}
		var got struct {
			Nodes []string `json:"nodes"`
			Count int      `json:"count"`
		}
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if got.Count != 2 {
			t.Errorf("count = %d, want 2 (%v)", got.Count, got.Nodes)
		}
	})

	t.Run("path", func(t *testing.T) {
		out, err := runCLI(t, "graph", "path", "source.shop.raw.orders", "test.shop.not_null_orders_id",
			"--manifest", manifestPath, "--json")
		if err != nil {
			t.Fatalf("graph path: %v", err)
		}
		var got struct {
			Path  []string `json:"path"`
			Found bool     `json:"found"`
		}
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if !got.Found || len(got.Path) != 4 {
			t.Errorf("path = %v, want 4 hops", got.Path)
		}
	})

	t.Run("unreachable path", func(t *testing.T) {
		out, err := runCLI(t, "graph", "path", "model.shop.orders", "source.shop.raw.orders", "--manifest", manifestPath)
		if err != nil {
			t.Fatalf("graph path: %v", err)
		}
		if !strings.Contains(out, "no path") {
			t.Errorf("output = %q, want no path", out)
		}
	})

	t.Run("depth", func(t *testing.T) {
		out, err := runCLI(t, "graph", "depth", "source.shop.raw.orders", "--manifest", manifestPath)
		if err != nil {
			t.Fatalf("graph depth: %v", err)
		}
		if strings.TrimSpace(out) != "3" {
			t.Errorf("depth = %q, want 3", out)
		}
	})

	t.Run("cycles", func(t *testing.T) {
		out, err := runCLI(t, "graph", "cycles", "--manifest", manifestPath)
		if err != nil {
			t.Fatalf("graph cycles: %v", err)
		}
		if !strings.Contains(out, "no cycles") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := runCLI(t, "graph", "ancestors", "model.shop.missing", "--manifest", manifestPath)
		if err == nil {
			t.Fatal("expected an error for an unknown node")
		}
	})
}

func TestImpactCommand_Threshold(t *testing.T) {
	manifestPath := writeManifest(t)

	out, err := runCLI(t, "impact", "models/staging/stg_orders.sql", "--manifest", manifestPath, "--threshold", "low")
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != exitGate {
		t.Fatalf("err = %v, want exit code %d", err, exitGate)
	}
	if !strings.Contains(out, "model.shop.orders") {
		t.Errorf("output does not list the downstream model:\n%s", out)
	}
}

func TestReviewCommand_RejectsSubSecondTimeout(t *testing.T) {
	for _, timeout := range []string{"500ms", "1500ms"} {
		_, err := runCLI(t, "review", "--timeout", timeout, "models/a.sql")
		if !errors.Is(err, errTimeoutResolution) {
			t.Errorf("--timeout %s: err = %v, want errTimeoutResolution", timeout, err)
		}
	}
}

func TestApplyReviewFlags_WholeSeconds(t *testing.T) {
	if err := reviewCmd.Flags().Set("timeout", "90s"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reviewTimeout = 0 })

	if err := applyReviewFlags(reviewCmd); err != nil {
		t.Fatalf("applyReviewFlags: %v", err)
	}
	if cfg.Orchestrator.TimeoutSeconds != 90 {
		t.Errorf("TimeoutSeconds = %d, want 90", cfg.Orchestrator.TimeoutSeconds)
	}
}

func TestChangeFlags_MultipleModes(t *testing.T) {
	f := &changeFlags{staged: true, commit: "abc123"}
	if _, err := f.resolve(context.Background(), nil); !errors.Is(err, errMultipleModes) {
		t.Fatalf("err = %v, want errMultipleModes", err)
	}

	f = &changeFlags{diff: true}
	if _, err := f.resolve(context.Background(), []string{"models/a.sql"}); !errors.Is(err, errMultipleModes) {
		t.Fatalf("err = %v, want errMultipleModes", err)
	}
}

func TestChangeFlags_FileList(t *testing.T) {
	f := &changeFlags{workDir: t.TempDir()}
	files, err := f.resolve(context.Background(), []string{"models/a.sql", "models/b.sql"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Status != changeset.StatusModified {
		t.Errorf("files = %+v", files)
	}
}

func TestReadPatch(t *testing.T) {
	patch := `diff --git a/models/orders.sql b/models/orders.sql
--- a/models/orders.sql
+++ b/models/orders.sql
@@ -1 +1 @@
-select 1
+select 2
`
	path := filepath.Join(t.TempDir(), "change.patch")
	if err := os.WriteFile(path, []byte(patch), 0o600); err != nil {
		t.Fatal(err)
	}

	files, err := readPatch(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "models/orders.sql" {
		t.Errorf("files = %+v", files)
	}

	if _, err := readPatch(filepath.Join(t.TempDir(), "missing.patch")); err == nil {
		t.Error("expected error for a missing patch file")
	}
}

func TestRenderReview(t *testing.T) {
	var buf bytes.Buffer
	res := &review.Result{
		Report: &orchestrator.MergedReport{
			Context:     orchestrator.ReviewContext{PRNumber: 42, Title: "Add revenue"},
			OverallRisk: risk.High,
			ExecutiveSummary: orchestrator.ExecutiveSummary{
				Summary:        "Analyzed 2 changed models.",
				KeyFindings:    []string{"High impact change"},
				CriticalIssues: []string{"Unbalanced Jinja in orders"},
			},
			Reports: map[string]orchestrator.Report{
				"impact": &impact.Report{Risk: risk.High},
			},
			Recommendations: []string{"Add tests for orders"},
			ApprovalStatus:  orchestrator.ChangesRequested,
			DurationMs:      1500,
		},
		ChangedIDs:     []string{"model.shop.orders"},
		UnmatchedFiles: []string{"README.md"},
	}

	renderReview(ux.NewPrinter(&buf), res)

	out := buf.String()
	for _, want := range []string{
		"PR #42 Add revenue",
		"CHANGES_REQUESTED",
		"HIGH",
		"README.md",
		(1500 * time.Millisecond).String(),
		"Analyzed 2 changed models.",
		"High impact change",
		"Unbalanced Jinja in orders",
		"Add tests for orders",
		"impact:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("review output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderImpact(t *testing.T) {
	var buf bytes.Buffer
	rep := &impact.Report{
		DirectlyAffected: []string{"model.shop.stg_orders"},
		DownstreamModels: []string{"model.shop.orders"},
		Risk:             risk.Medium,
		ImpactScore:      7,
		ImpactDepth:      map[string]int{"model.shop.stg_orders": 2},
		DepthApproximate: true,
		WarehouseImpacts: []impact.WarehouseImpact{{
			ModelID:     "model.shop.orders",
			Platform:    impact.PlatformSnowflake,
			Severity:    risk.SeverityMedium,
			Description: "Clustering keys changed",
		}},
		TotalAffected: 2,
	}

	renderImpact(ux.NewPrinter(&buf), rep, &review.Result{ChangedIDs: []string{"model.shop.stg_orders"}})

	out := buf.String()
	for _, want := range []string{
		"MEDIUM",
		"7.0",
		"Downstream models (1)",
		"model.shop.orders",
		"approximate",
		"Snowflake model.shop.orders [MEDIUM] Clustering keys changed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("impact output missing %q:\n%s", want, out)
		}
	}
}
