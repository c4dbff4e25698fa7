// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quality

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/manifest"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newValidator(t *testing.T) (*Validator, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.WithLogger(quietLogger()))
	return NewValidator(DefaultConfig(), WithBus(b), WithLogger(quietLogger())), b
}

// shopGraph has a documented, tested staging model and an undocumented,
// untested mart model.
func shopGraph(t *testing.T) *graph.Store {
	t.Helper()
	s, err := graph.Build(
		[]graph.Node{
			{ID: "model.shop.stg_orders", Kind: graph.KindModel, FilePath: "models/staging/stg_orders.sql",
				Attributes: map[string]any{
					manifest.AttrName:        "stg_orders",
					manifest.AttrDescription: "Orders",
					manifest.AttrRawCode:     "select id, amount from {{ source('raw', 'orders') }}",
					manifest.AttrColumns:     map[string]manifest.Column{"id": {Name: "id", Description: "Key"}},
				}},
			{ID: "model.shop.orders", Kind: graph.KindModel, FilePath: "models/marts/orders.sql",
				Attributes: map[string]any{
					manifest.AttrName:    "orders",
					manifest.AttrRawCode: "select * from {{ ref('stg_orders') }}",
					manifest.AttrColumns: map[string]manifest.Column{"id": {Name: "id"}},
				}},
			{ID: "test.shop.not_null_stg_orders_id", Kind: graph.KindTest},
		},
		[]graph.Edge{
			{From: "model.shop.stg_orders", To: "model.shop.orders"},
			{From: "model.shop.stg_orders", To: "test.shop.not_null_stg_orders_id"},
		},
		graph.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	return s
}

func TestValidator_CleanChange(t *testing.T) {
	v, b := newValidator(t)

	rep, err := v.Run(context.Background(), &orchestrator.Input{
		Graph:      shopGraph(t),
		Changes:    changeset.FromList([]string{"models/staging/stg_orders.sql"}),
		ChangedIDs: []string{"model.shop.stg_orders"},
	})
	require.NoError(t, err)

	r := rep.(*Report)
	assert.Equal(t, 100.0, r.SQL.Score)
	assert.Equal(t, 100.0, r.Documentation.CompletenessScore)
	assert.Equal(t, 100.0, r.Coverage.CoveragePercentage)
	assert.Equal(t, 100.0, r.Standards.ComplianceScore)
	assert.InDelta(t, 100.0, r.OverallScore, 1e-9)
	assert.Equal(t, risk.Low, r.RiskLevel())
	assert.Empty(t, r.KeyFindings())
	assert.Empty(t, r.CriticalIssues())

	events := b.History(bus.HistoryFilter{Source: EventSource})
	require.Len(t, events, 2)
	assert.Equal(t, "quality_validation_completed", events[1].Type)
}

func TestValidator_FindsIssues(t *testing.T) {
	v, _ := newValidator(t)

	rep, err := v.Run(context.Background(), &orchestrator.Input{
		Graph:      shopGraph(t),
		Changes:    changeset.FromList([]string{"models/marts/orders.sql"}),
		ChangedIDs: []string{"model.shop.orders"},
	})
	require.NoError(t, err)
	r := rep.(*Report)

	require.Len(t, r.SQL.BestPracticeViolations, 1)
	assert.Equal(t, "select_star", r.SQL.BestPracticeViolations[0].IssueType)
	assert.Equal(t, 80.0, r.SQL.Score)

	assert.Equal(t, []string{"model.shop.orders"}, r.Documentation.MissingDescriptions)
	assert.Equal(t, []string{"model.shop.orders.id"}, r.Documentation.IncompleteColumnDocs)
	assert.Equal(t, 75.0, r.Documentation.CompletenessScore)

	assert.Equal(t, []string{"orders"}, r.Coverage.ModelsWithoutTests)
	assert.Equal(t, 0.0, r.Coverage.CoveragePercentage)
	assert.Contains(t, r.Recommendations(), coverageRecommendation)

	// 80*0.3 + 75*0.2 + 0*0.3 + 100*0.2
	assert.InDelta(t, 59.0, r.OverallScore, 1e-9)
	assert.Equal(t, risk.Medium, r.RiskLevel())
	assert.Equal(t, []string{"3 quality issues identified"}, r.KeyFindings())
	assert.Equal(t, []string{"model.shop.orders"}, r.Coverage.UntestedModelIDs)
	assert.Equal(t, []string{"model.shop.orders"}, r.Signals().UntestedModels)
}

func TestValidator_BreakingChangesAreCritical(t *testing.T) {
	v, _ := newValidator(t)

	rep, err := v.Run(context.Background(), &orchestrator.Input{
		Graph: shopGraph(t),
		Changes: []changeset.File{
			{Path: "models/marts/legacy_orders.sql", Status: changeset.StatusDeleted},
			{Path: "models/marts/customers.sql", OldPath: "models/marts/clients.sql", Status: changeset.StatusRenamed},
			{Path: "models/marts/payments.sql", Status: changeset.StatusAdded},
		},
	})
	require.NoError(t, err)
	r := rep.(*Report)

	require.Len(t, r.Schema.BreakingChanges, 2)
	assert.Equal(t, ModelRemoved, r.Schema.BreakingChanges[0].ChangeType)
	assert.Equal(t, "legacy_orders", r.Schema.BreakingChanges[0].ModelName)
	assert.Equal(t, "clients", r.Schema.BreakingChanges[1].OldValue)
	assert.Len(t, r.Schema.CompatibleChanges, 1)
	assert.Equal(t, risk.High, r.Schema.RiskAssessment)

	assert.True(t, r.HasCriticalIssues())
	assert.Equal(t, risk.Critical, r.RiskLevel())
	assert.Equal(t, []string{"Critical quality issues detected requiring immediate attention"}, r.CriticalIssues())
	assert.True(t, r.Signals().CriticalIssues)
}

func TestCheckSQL(t *testing.T) {
	v := NewValidator(Config{MaxModelLines: 3}, WithBus(bus.New()), WithLogger(quietLogger()))

	long := graph.Node{ID: "model.a", FilePath: "models/a.sql", Attributes: map[string]any{
		manifest.AttrRawCode: "select\n  id\nfrom x\nwhere 1 = 1",
	}}
	broken := graph.Node{ID: "model.b", FilePath: "models/b.sql", Attributes: map[string]any{
		manifest.AttrRawCode: "select id from {{ ref('a') }",
	}}
	changes := changeset.FromList([]string{"models/deprecated/old.sql", "models/schema.yml"})

	res := v.checkSQL(changes, []graph.Node{long, broken})

	require.Len(t, res.SyntaxErrors, 1)
	assert.Equal(t, risk.SeverityCritical, res.SyntaxErrors[0].Severity)
	require.Len(t, res.ComplexityIssues, 1)
	assert.Contains(t, res.ComplexityIssues[0].Message, "4 lines")
	require.Len(t, res.BestPracticeViolations, 1)
	assert.Equal(t, "deprecated_usage", res.BestPracticeViolations[0].IssueType)

	// 85 - (20 + 10 + 5)
	assert.Equal(t, 50.0, res.Score)
}

func TestCheckSQL_ScoreFloorsAtZero(t *testing.T) {
	v := NewValidator(DefaultConfig(), WithBus(bus.New()), WithLogger(quietLogger()))
	var nodes []graph.Node
	for i := 0; i < 5; i++ {
		nodes = append(nodes, graph.Node{ID: "m", Attributes: map[string]any{manifest.AttrRawCode: "{{"}})
	}
	assert.Equal(t, 0.0, v.checkSQL(nil, nodes).Score)
}

func TestCheckStandards(t *testing.T) {
	res := checkStandards([]changeset.File{
		{Path: "models/staging/orders.sql", Status: changeset.StatusModified},
		{Path: "models/staging/stg_payments.sql", Status: changeset.StatusModified},
		{Path: "models/marts/stg_customers.sql", Status: changeset.StatusAdded},
		{Path: "models/staging/old.sql", Status: changeset.StatusDeleted},
		{Path: "analyses/staging/adhoc.sql", Status: changeset.StatusModified},
	})

	require.Len(t, res.NamingViolations, 2)
	assert.True(t, strings.Contains(res.NamingViolations[0].Message, "should use the stg_ prefix"))
	assert.True(t, strings.Contains(res.NamingViolations[1].Message, "should not use the stg_ prefix"))
	assert.Equal(t, 80.0, res.ComplianceScore)
}

func TestRun_RequiresGraph(t *testing.T) {
	v, _ := newValidator(t)
	_, err := v.Run(context.Background(), &orchestrator.Input{})
	assert.Error(t, err)
}
