// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package review runs a complete pull request review: it loads the dbt
// manifest, builds (or reuses) the lineage graph, maps changed files onto
// graph nodes and hands everything to the orchestrator together with the
// impact, quality and performance routines.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianLineage/services/lineage/bus"
	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
	"github.com/AleutianAI/AleutianLineage/services/lineage/config"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/impact"
	"github.com/AleutianAI/AleutianLineage/services/lineage/manifest"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/performance"
	"github.com/AleutianAI/AleutianLineage/services/lineage/quality"
)

// ErrNoManifest is returned when neither the request nor the config names
// a manifest.
var ErrNoManifest = errors.New("no manifest location")

// Request describes one review.
type Request struct {
	// ManifestPath overrides the configured manifest location.
	ManifestPath string

	Changes []changeset.File

	// BaselineResults and CurrentResults locate run_results.json files
	// for the performance routine. Empty falls back to the config.
	BaselineResults string
	CurrentResults  string

	Context orchestrator.ReviewContext
}

// Result is a finished review.
type Result struct {
	Report *orchestrator.MergedReport `json:"report"`

	// ChangedIDs are the graph nodes defined by the changed files.
	ChangedIDs []string `json:"changed_ids"`

	// UnmatchedFiles are changed paths that define no node.
	UnmatchedFiles []string `json:"unmatched_files,omitempty"`
}

// Service runs reviews against cached graphs.
//
// Thread Safety: Service is safe for concurrent use. SetConfig affects
// reviews started afterwards.
type Service struct {
	loader *manifest.Loader
	cache  *GraphCache
	bus    bus.Publisher
	logger *slog.Logger

	mu  sync.RWMutex
	cfg config.Config
}

// Option configures a Service.
type Option func(*Service)

// WithBus sets the event bus shared by the orchestrator and routines.
func WithBus(p bus.Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCache replaces the graph cache.
func WithCache(c *GraphCache) Option {
	return func(s *Service) { s.cache = c }
}

// New creates a Service.
func New(cfg config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = bus.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cache == nil {
		s.cache = NewGraphCache(DefaultCacheTTL)
	}
	s.loader = manifest.NewLoader(cfg.Manifest.CredentialsFile, s.logger)
	return s
}

// Config returns the current config.
func (s *Service) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig replaces the config used by subsequent reviews.
func (s *Service) SetConfig(cfg config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// CacheStats returns graph cache counters.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// Close releases the artifact loader.
func (s *Service) Close() error {
	return s.loader.Close()
}

// Graph returns the graph for the manifest at location, building it on a
// cache miss.
func (s *Service) Graph(ctx context.Context, location string) (*Entry, error) {
	if location == "" {
		location = s.Config().Manifest.Path
	}
	if location == "" {
		return nil, ErrNoManifest
	}
	return s.cache.GetOrBuild(ctx, location, s.build)
}

func (s *Service) build(ctx context.Context, location string) (*Entry, error) {
	start := time.Now()
	m, err := s.loader.LoadManifest(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	store, err := graph.Build(m.Nodes, m.Edges, graph.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	s.logger.Info("lineage graph built",
		slog.String("manifest", location),
		slog.Int("nodes", store.NodeCount()),
		slog.Int("edges", store.EdgeCount()),
		slog.Int("dropped_edges", len(store.DroppedEdges())),
		slog.Duration("duration", time.Since(start)),
	)
	return &Entry{Store: store, Manifest: m, BuiltAt: store.BuiltAt()}, nil
}

// Routines returns the routines a review runs, configured from cfg.
func (s *Service) Routines(cfg config.Config) []orchestrator.Routine {
	return []orchestrator.Routine{
		impact.NewRoutine(impact.WithBus(s.bus), impact.WithLogger(s.logger)),
		quality.NewValidator(cfg.QualityConfig(), quality.WithBus(s.bus), quality.WithLogger(s.logger)),
		performance.NewAssessor(cfg.PerformanceConfig(), performance.WithBus(s.bus), performance.WithLogger(s.logger)),
	}
}

// Review runs every routine over the request and merges their reports.
func (s *Service) Review(ctx context.Context, req Request) (*Result, error) {
	cfg := s.Config()

	in, res, err := s.input(ctx, cfg, req)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(cfg.OrchestratorConfig(), s.Routines(cfg),
		orchestrator.WithBus(s.bus),
		orchestrator.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	report, err := orch.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	res.Report = report
	return res, nil
}

// Impact runs the impact analysis alone.
func (s *Service) Impact(ctx context.Context, req Request) (*impact.Report, *Result, error) {
	in, res, err := s.input(ctx, s.Config(), req)
	if err != nil {
		return nil, nil, err
	}
	rep, err := impact.Analyze(ctx, in.Graph, in.ChangedIDs, in.TotalProjectSize, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return rep, res, nil
}

// HealthCheck reports the health of every review routine.
func (s *Service) HealthCheck(ctx context.Context) orchestrator.HealthStatus {
	cfg := s.Config()
	orch, err := orchestrator.New(cfg.OrchestratorConfig(), s.Routines(cfg),
		orchestrator.WithBus(s.bus),
		orchestrator.WithLogger(s.logger),
	)
	if err != nil {
		return orchestrator.HealthStatus{
			Components: []orchestrator.ComponentHealth{{Name: "orchestrator", Error: err.Error()}},
			Timestamp:  time.Now().UTC(),
		}
	}
	return orch.HealthCheck(ctx)
}

func (s *Service) input(ctx context.Context, cfg config.Config, req Request) (*orchestrator.Input, *Result, error) {
	entry, err := s.Graph(ctx, firstNonEmpty(req.ManifestPath, cfg.Manifest.Path))
	if err != nil {
		return nil, nil, err
	}

	resolved := changeset.ResolveNodeIDs(req.Changes, entry.Store.Nodes())
	if len(resolved.Unmatched) > 0 {
		s.logger.Debug("changed files without graph nodes",
			slog.Int("count", len(resolved.Unmatched)),
		)
	}

	baseline, err := s.executionTimes(ctx, firstNonEmpty(req.BaselineResults, cfg.Manifest.BaselineResults))
	if err != nil {
		return nil, nil, fmt.Errorf("baseline run results: %w", err)
	}
	current, err := s.executionTimes(ctx, firstNonEmpty(req.CurrentResults, cfg.Manifest.CurrentResults))
	if err != nil {
		return nil, nil, fmt.Errorf("current run results: %w", err)
	}

	in := &orchestrator.Input{
		Graph:            entry.Store,
		Changes:          req.Changes,
		ChangedIDs:       resolved.NodeIDs,
		Context:          req.Context,
		TotalProjectSize: projectSize(entry.Store),
		BaselineTimes:    baseline,
		CurrentTimes:     current,
	}
	res := &Result{ChangedIDs: resolved.NodeIDs, UnmatchedFiles: resolved.Unmatched}
	if res.ChangedIDs == nil {
		res.ChangedIDs = []string{}
	}
	return in, res, nil
}

func (s *Service) executionTimes(ctx context.Context, location string) (map[string]float64, error) {
	if location == "" {
		return nil, nil
	}
	rr, err := s.loader.LoadRunResults(ctx, location)
	if err != nil {
		return nil, err
	}
	return rr.ExecutionTimes(), nil
}

// projectSize counts the models, tests and sources of the project. Seeds,
// snapshots and other resource types do not scale the impact score.
func projectSize(store *graph.Store) int {
	byKind := graph.NewQuerier(store).Statistics().NodesByKind
	return byKind[graph.KindModel] + byKind[graph.KindTest] + byKind[graph.KindSource]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
