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
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/risk"
)

// =============================================================================
// ROUTINE CONTRACT
// =============================================================================

// Input is the shared, read-only input handed to every routine of a run.
type Input struct {
	// Graph is the lineage graph for the run. Required.
	Graph *graph.Store

	// Changes are the changed files under review.
	Changes []changeset.File

	// ChangedIDs are the node ids whose file paths match Changes.
	ChangedIDs []string

	// Context describes the pull request, if any.
	Context ReviewContext

	// TotalProjectSize normalizes the impact score when non-zero.
	TotalProjectSize int

	// BaselineTimes and CurrentTimes map node id to execution seconds.
	BaselineTimes map[string]float64
	CurrentTimes  map[string]float64
}

// Routine is an independent analysis run by the orchestrator.
//
// Implementations must treat Input as read-only and honour ctx
// cancellation. A routine that ignores ctx is abandoned on timeout and
// its late result is discarded.
type Routine interface {
	Name() string
	Run(ctx context.Context, in *Input) (Report, error)
}

// Report is the result of a routine. The orchestrator depends only on
// these accessors; richer data is exposed through the optional
// interfaces below.
type Report interface {
	RiskLevel() risk.Level
	Recommendations() []string
}

// FindingsReporter is implemented by reports that contribute key findings
// to the executive summary.
type FindingsReporter interface {
	KeyFindings() []string
}

// CriticalIssueReporter is implemented by reports that contribute critical
// issues to the executive summary.
type CriticalIssueReporter interface {
	CriticalIssues() []string
}

// SignalReporter is implemented by reports that contribute to cross-routine
// recommendations and the approval verdict.
type SignalReporter interface {
	Signals() Signals
}

// HealthChecker is implemented by routines that can verify their
// dependencies before a run.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Signals are facts a report exposes for synthesis. Signals from all
// reports of a run are merged: flags are OR-ed, lists concatenated.
type Signals struct {
	// HighImpact is set when changes reach a large part of the graph.
	HighImpact bool

	// CriticalIssues is set when the report found blocking problems.
	// It forces the verdict to Blocked.
	CriticalIssues bool

	// Regressions is set when execution time regressed.
	Regressions bool

	// ChangedModels are the ids of directly changed models.
	ChangedModels []string

	// UntestedModels are the ids of changed models lacking tests.
	UntestedModels []string
}

func (s Signals) merge(other Signals) Signals {
	s.HighImpact = s.HighImpact || other.HighImpact
	s.CriticalIssues = s.CriticalIssues || other.CriticalIssues
	s.Regressions = s.Regressions || other.Regressions
	s.ChangedModels = append(s.ChangedModels, other.ChangedModels...)
	s.UntestedModels = append(s.UntestedModels, other.UntestedModels...)
	return s
}

// =============================================================================
// MERGED REPORT
// =============================================================================

// ReviewContext describes the pull request under review.
type ReviewContext struct {
	Repository string `json:"repository,omitempty"`
	PRNumber   int    `json:"pr_number,omitempty"`
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	BaseBranch string `json:"base_branch,omitempty"`
	HeadBranch string `json:"head_branch,omitempty"`
}

// ApprovalStatus is the merge verdict.
type ApprovalStatus string

const (
	Approved               ApprovalStatus = "APPROVED"
	ApprovedWithConditions ApprovalStatus = "APPROVED_WITH_CONDITIONS"
	ChangesRequested       ApprovalStatus = "CHANGES_REQUESTED"
	Blocked                ApprovalStatus = "BLOCKED"
)

// ExecutiveSummary condenses a run into a few lines.
type ExecutiveSummary struct {
	Summary             string   `json:"summary"`
	KeyFindings         []string `json:"key_findings"`
	CriticalIssues      []string `json:"critical_issues"`
	RecommendationCount int      `json:"recommendation_count"`
}

// MergedReport is the single verdict of a run.
type MergedReport struct {
	ID               uuid.UUID         `json:"id"`
	GeneratedAt      time.Time         `json:"generated_at"`
	Context          ReviewContext     `json:"context"`
	ExecutiveSummary ExecutiveSummary  `json:"executive_summary"`
	OverallRisk      risk.Level        `json:"overall_risk"`
	Reports          map[string]Report `json:"reports"`
	Recommendations  []string          `json:"recommendations"`
	ApprovalStatus   ApprovalStatus    `json:"approval_status"`
	DurationMs       int64             `json:"duration_ms"`
}

// ShouldBlockMerge reports whether the verdict should fail a merge gate.
func (m *MergedReport) ShouldBlockMerge() bool {
	return m.ApprovalStatus == Blocked ||
		m.ApprovalStatus == ChangesRequested ||
		m.OverallRisk == risk.Critical
}

// =============================================================================
// CONFIGURATION AND STATE
// =============================================================================

// Config controls how routines are executed. It is fixed for a run.
type Config struct {
	// Timeout is the deadline of a single routine attempt.
	Timeout time.Duration

	// MaxRetries is the total number of attempts per routine.
	// Zero is treated as one attempt.
	MaxRetries int

	// Parallel runs routines concurrently; otherwise one after another.
	Parallel bool

	// FailFast stops retrying a routine after its first failure.
	FailFast bool

	// BackoffUnit is the wait after attempt n is n units.
	BackoffUnit time.Duration
}

// DefaultConfig returns the default execution settings.
func DefaultConfig() Config {
	return Config{
		Timeout:     300 * time.Second,
		MaxRetries:  3,
		Parallel:    true,
		FailFast:    false,
		BackoffUnit: time.Second,
	}
}

// Mode returns the execution mode implied by Parallel.
func (c Config) Mode() Mode {
	if c.Parallel {
		return ModeParallel
	}
	return ModeSequential
}

// Policy returns the retry policy applied to each routine.
func (c Config) Policy() Policy {
	return Policy{
		Timeout:     c.Timeout,
		MaxAttempts: c.MaxRetries,
		FailFast:    c.FailFast,
		Backoff:     c.BackoffUnit,
	}
}

// State is the lifecycle state of an orchestrator run.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Mode is how routines are scheduled during StateRunning.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)
