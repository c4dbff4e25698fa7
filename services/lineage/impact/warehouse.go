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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/manifest"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// Platform is a warehouse family inferred from node attributes.
type Platform string

const (
	PlatformUnknown    Platform = ""
	PlatformBigQuery   Platform = "BigQuery"
	PlatformSnowflake  Platform = "Snowflake"
	PlatformDatabricks Platform = "Databricks"
	PlatformRedshift   Platform = "Redshift"
)

// WarehouseImpact is a platform-specific consequence of changing a model.
type WarehouseImpact struct {
	ModelID         string        `json:"model_id"`
	Platform        Platform      `json:"warehouse_type"`
	ImpactType      string        `json:"impact_type"`
	Description     string        `json:"description"`
	Severity        risk.Severity `json:"severity"`
	Recommendations []string      `json:"recommendations"`
}

// DetectPlatform infers the warehouse family from the free-text database
// attribute, falling back to the manifest adapter type. It returns
// PlatformUnknown rather than guessing.
func DetectPlatform(n graph.Node) Platform {
	for _, key := range []string{manifest.AttrDatabase, manifest.AttrAdapterType} {
		if p := platformFromText(n.StringAttr(key)); p != PlatformUnknown {
			return p
		}
	}
	return PlatformUnknown
}

func platformFromText(s string) Platform {
	s = strings.ToLower(s)
	switch {
	case s == "":
		return PlatformUnknown
	case strings.Contains(s, "bigquery") || strings.Contains(s, "bq"):
		return PlatformBigQuery
	case strings.Contains(s, "snowflake"):
		return PlatformSnowflake
	case strings.Contains(s, "databricks"):
		return PlatformDatabricks
	case strings.Contains(s, "redshift"):
		return PlatformRedshift
	default:
		return PlatformUnknown
	}
}

// AnalyzeWarehouse evaluates the platform heuristics for a model node.
// It is a pure function of the node's attributes. The second result is
// false when the platform is unknown or no heuristic applies.
func AnalyzeWarehouse(n graph.Node) (WarehouseImpact, bool) {
	materialized := n.StringAttr(manifest.AttrMaterialized)
	if materialized == "" {
		materialized = "view"
	}

	var wi WarehouseImpact
	switch DetectPlatform(n) {
	case PlatformBigQuery:
		wi = bigQueryImpact(n, materialized)
	case PlatformSnowflake:
		wi = snowflakeImpact(n, materialized)
	case PlatformDatabricks:
		wi = databricksImpact(materialized)
	case PlatformRedshift:
		wi = redshiftImpact(n, materialized)
	default:
		return WarehouseImpact{}, false
	}
	if len(wi.Recommendations) == 0 {
		return WarehouseImpact{}, false
	}
	wi.ModelID = n.ID
	return wi, true
}

type findings struct {
	severity risk.Severity
	recs     []string
}

func (f *findings) add(sev risk.Severity, rec string) {
	f.severity = f.severity.Raise(sev)
	f.recs = append(f.recs, rec)
}

func newFindings() *findings {
	return &findings{severity: risk.SeverityLow}
}

func bigQueryImpact(n graph.Node, materialized string) WarehouseImpact {
	f := newFindings()
	if n.HasAttr("partition_by") && materialized == "table" {
		f.add(risk.SeverityMedium, "Partitioned table detected - changes may affect partition pruning")
	}
	if n.HasAttr("cluster_by") {
		f.add(risk.SeverityMedium, "Clustered table detected - changes may affect query performance")
	}
	switch materialized {
	case "table":
		f.add(risk.SeverityMedium, "Table materialization - changes will trigger full rebuild")
	case "incremental":
		f.add(risk.SeverityHigh, "Incremental model - verify incremental logic still works")
	}
	return WarehouseImpact{
		Platform:        PlatformBigQuery,
		ImpactType:      "Configuration Change",
		Description:     fmt.Sprintf("Model uses %s materialization with specific BigQuery configurations", materialized),
		Severity:        f.severity,
		Recommendations: f.recs,
	}
}

func snowflakeImpact(n graph.Node, materialized string) WarehouseImpact {
	f := newFindings()
	if n.HasAttr("cluster_by") {
		f.add(risk.SeverityMedium, "Clustered table in Snowflake - changes may affect auto-clustering")
	}
	if materialized == "incremental" {
		f.add(risk.SeverityHigh, "Incremental model - verify merge strategy and clustering keys")
	}
	return WarehouseImpact{
		Platform:        PlatformSnowflake,
		ImpactType:      "Performance Impact",
		Description:     "Snowflake-specific configurations may be affected by changes",
		Severity:        f.severity,
		Recommendations: f.recs,
	}
}

func databricksImpact(materialized string) WarehouseImpact {
	f := newFindings()
	switch materialized {
	case "table":
		f.add(risk.SeverityMedium, "Delta table - changes will create new version with ACID properties")
	case "incremental":
		f.add(risk.SeverityHigh, "Incremental Delta table - verify merge conditions and optimize commands")
	}
	return WarehouseImpact{
		Platform:        PlatformDatabricks,
		ImpactType:      "Delta Lake Impact",
		Description:     "Delta Lake table configurations may be affected",
		Severity:        f.severity,
		Recommendations: f.recs,
	}
}

func redshiftImpact(n graph.Node, materialized string) WarehouseImpact {
	f := newFindings()
	if n.HasAttr(manifest.AttrDistKey) || n.HasAttr(manifest.AttrSortKey) {
		f.add(risk.SeverityMedium, "Table has distribution/sort keys - changes may affect query performance")
	}
	if materialized == "table" {
		f.add(risk.SeverityMedium, "Table materialization - consider VACUUM and ANALYZE after changes")
	}
	return WarehouseImpact{
		Platform:        PlatformRedshift,
		ImpactType:      "Performance Impact",
		Description:     "Redshift-specific configurations may need optimization",
		Severity:        f.severity,
		Recommendations: f.recs,
	}
}
