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
	"testing"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

func model(attrs map[string]any) graph.Node {
	return graph.Node{ID: "model.shop.orders", Kind: graph.KindModel, Attributes: attrs}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		attrs map[string]any
		want  Platform
	}{
		{map[string]any{"database": "my-bq-project"}, PlatformBigQuery},
		{map[string]any{"database": "BigQuery_Prod"}, PlatformBigQuery},
		{map[string]any{"database": "SNOWFLAKE_DB"}, PlatformSnowflake},
		{map[string]any{"database": "databricks_catalog"}, PlatformDatabricks},
		{map[string]any{"database": "redshift_dw"}, PlatformRedshift},
		{map[string]any{"database": "analytics", "adapter_type": "snowflake"}, PlatformSnowflake},
		{map[string]any{"database": "analytics"}, PlatformUnknown},
		{nil, PlatformUnknown},
	}
	for _, tt := range tests {
		if got := DetectPlatform(model(tt.attrs)); got != tt.want {
			t.Errorf("DetectPlatform(%v) = %q, want %q", tt.attrs, got, tt.want)
		}
	}
}

func TestAnalyzeWarehouse(t *testing.T) {
	tests := []struct {
		name     string
		attrs    map[string]any
		ok       bool
		severity risk.Severity
		recs     int
	}{
		{"bigquery partitioned table", map[string]any{
			"database": "bq", "materialized": "table", "partition_by": map[string]any{"field": "day"},
		}, true, risk.SeverityMedium, 2},
		{"bigquery partition on view is ignored", map[string]any{
			"database": "bq", "materialized": "view", "partition_by": map[string]any{"field": "day"},
		}, false, "", 0},
		{"bigquery clustered incremental", map[string]any{
			"database": "bq", "materialized": "incremental", "cluster_by": []any{"id"},
		}, true, risk.SeverityHigh, 2},
		{"snowflake view", map[string]any{"database": "snowflake", "materialized": "view"}, false, "", 0},
		{"snowflake incremental", map[string]any{"database": "snowflake", "materialized": "incremental"}, true, risk.SeverityHigh, 1},
		{"databricks table", map[string]any{"database": "databricks", "materialized": "table"}, true, risk.SeverityMedium, 1},
		{"redshift keys", map[string]any{"database": "redshift", "sort_key": []any{"created_at"}}, true, risk.SeverityMedium, 1},
		{"unknown platform", map[string]any{"database": "postgres", "materialized": "table"}, false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wi, ok := AnalyzeWarehouse(model(tt.attrs))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tt.ok, wi)
			}
			if !ok {
				return
			}
			if wi.Severity != tt.severity {
				t.Errorf("Severity = %s, want %s", wi.Severity, tt.severity)
			}
			if len(wi.Recommendations) != tt.recs {
				t.Errorf("Recommendations = %q, want %d", wi.Recommendations, tt.recs)
			}
			if wi.ModelID != "model.shop.orders" {
				t.Errorf("ModelID = %q", wi.ModelID)
			}
		})
	}
}

func TestAnalyzeWarehouse_BigQueryDescription(t *testing.T) {
	wi, ok := AnalyzeWarehouse(model(map[string]any{"database": "bigquery", "materialized": "table"}))
	if !ok {
		t.Fatal("expected a BigQuery impact")
	}
	want := "Model uses table materialization with specific BigQuery configurations"
	if wi.Description != want || wi.ImpactType != "Configuration Change" {
		t.Errorf("got %q / %q", wi.ImpactType, wi.Description)
	}
}
