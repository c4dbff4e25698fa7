// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads lineage.yaml, applies environment overrides and
// converts the result into the option structs of the review components.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/services/lineage/orchestrator"
	"github.com/AleutianAI/AleutianLineage/services/lineage/performance"
	"github.com/AleutianAI/AleutianLineage/services/lineage/quality"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "lineage.yaml"

// Environment overrides.
const (
	EnvTimeoutSeconds    = "DBT_PR_AGENT_TIMEOUT_SECONDS"
	EnvMaxRetries        = "DBT_PR_AGENT_MAX_RETRIES"
	EnvParallelExecution = "DBT_PR_AGENT_PARALLEL_EXECUTION"
	EnvFailFast          = "DBT_PR_AGENT_FAIL_FAST"
)

// ErrInvalidConfig is returned when a config fails validation or an
// environment override cannot be parsed.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full lineage.yaml document.
type Config struct {
	Orchestrator OrchestratorSection `yaml:"orchestrator"`
	QualityGates QualityGates        `yaml:"quality_gates"`
	Logging      LoggingSection      `yaml:"logging"`
	Telemetry    TelemetrySection    `yaml:"telemetry"`
	Server       ServerSection       `yaml:"server"`
	Manifest     ManifestSection     `yaml:"manifest"`
}

// OrchestratorSection configures routine execution.
type OrchestratorSection struct {
	TimeoutSeconds    int  `yaml:"timeout_seconds" validate:"gt=0"`
	MaxRetries        int  `yaml:"max_retries" validate:"gte=0,lte=10"`
	ParallelExecution bool `yaml:"parallel_execution"`
	FailFast          bool `yaml:"fail_fast"`

	// BackoffMillis is the linear backoff unit between attempts.
	BackoffMillis int `yaml:"backoff_millis" validate:"gte=0"`
}

// QualityGates holds the thresholds of the quality and performance routines.
type QualityGates struct {
	MaxCostIncrease     float64 `yaml:"max_cost_increase" validate:"gte=0"`
	MaxExecTimeIncrease float64 `yaml:"max_execution_time_increase" validate:"gte=0"`
	MinTestCoverage     float64 `yaml:"min_test_coverage" validate:"gte=0,lte=100"`
	MaxModelLines       int     `yaml:"max_model_lines" validate:"gte=0"`
	CostPerHour         float64 `yaml:"cost_per_hour" validate:"gte=0"`
}

// LoggingSection mirrors logging.Config.
type LoggingSection struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
	Quiet bool   `yaml:"quiet"`
}

// TelemetrySection selects the trace and metric exporters.
type TelemetrySection struct {
	ServiceName  string `yaml:"service_name"`
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`
	Insecure     bool   `yaml:"insecure"`
}

// ServerSection configures `lineage serve`.
type ServerSection struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is requests per second per server; zero disables limiting.
	RateLimit    float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst        int     `yaml:"burst" validate:"gte=0"`
	HistoryLimit int     `yaml:"history_limit" validate:"gte=0"`
}

// ManifestSection locates the dbt artifacts. Locations may be local
// paths or gs://bucket/object URLs.
type ManifestSection struct {
	Path            string `yaml:"path"`
	BaselineResults string `yaml:"baseline_results"`
	CurrentResults  string `yaml:"current_results"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Orchestrator: OrchestratorSection{
			TimeoutSeconds:    300,
			MaxRetries:        3,
			ParallelExecution: true,
			FailFast:          false,
			BackoffMillis:     1000,
		},
		QualityGates: QualityGates{
			MaxCostIncrease:     25,
			MaxExecTimeIncrease: 50,
			MinTestCoverage:     80,
			MaxModelLines:       300,
		},
		Logging: LoggingSection{Level: "info"},
		Telemetry: TelemetrySection{
			ServiceName: "aleutian-lineage",
			Traces:      "none",
			Metrics:     "prometheus",
		},
		Server: ServerSection{
			Addr:         ":8089",
			RateLimit:    10,
			Burst:        20,
			HistoryLimit: 10000,
		},
		Manifest: ManifestSection{Path: "target/manifest.json"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is an error; use LoadOrDefault
// when the file is optional.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	def := DefaultConfig()
	if err := def.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Parse decodes a YAML document over the defaults, applies environment
// overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes c as YAML, creating parent directories.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides orchestrator settings from the DBT_PR_AGENT_*
// variables. lookup is usually os.LookupEnv. Malformed values are errors.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTimeoutSeconds); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvTimeoutSeconds, v, err)
		}
		c.Orchestrator.TimeoutSeconds = n
	}
	if v, ok := lookup(EnvMaxRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvMaxRetries, v, err)
		}
		c.Orchestrator.MaxRetries = n
	}
	if v, ok := lookup(EnvParallelExecution); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvParallelExecution, v, err)
		}
		c.Orchestrator.ParallelExecution = b
	}
	if v, ok := lookup(EnvFailFast); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvFailFast, v, err)
		}
		c.Orchestrator.FailFast = b
	}
	return nil
}

// Validate checks struct constraints and returns ErrInvalidConfig wrapping
// the field errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, verrs)
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Merge returns c with every field of other that differs from the
// default taking precedence.
func (c Config) Merge(other Config) Config {
	def := DefaultConfig()
	out := c

	mergeField(&out.Orchestrator.TimeoutSeconds, other.Orchestrator.TimeoutSeconds, def.Orchestrator.TimeoutSeconds)
	mergeField(&out.Orchestrator.MaxRetries, other.Orchestrator.MaxRetries, def.Orchestrator.MaxRetries)
	mergeField(&out.Orchestrator.ParallelExecution, other.Orchestrator.ParallelExecution, def.Orchestrator.ParallelExecution)
	mergeField(&out.Orchestrator.FailFast, other.Orchestrator.FailFast, def.Orchestrator.FailFast)
	mergeField(&out.Orchestrator.BackoffMillis, other.Orchestrator.BackoffMillis, def.Orchestrator.BackoffMillis)

	mergeField(&out.QualityGates.MaxCostIncrease, other.QualityGates.MaxCostIncrease, def.QualityGates.MaxCostIncrease)
	mergeField(&out.QualityGates.MaxExecTimeIncrease, other.QualityGates.MaxExecTimeIncrease, def.QualityGates.MaxExecTimeIncrease)
	mergeField(&out.QualityGates.MinTestCoverage, other.QualityGates.MinTestCoverage, def.QualityGates.MinTestCoverage)
	mergeField(&out.QualityGates.MaxModelLines, other.QualityGates.MaxModelLines, def.QualityGates.MaxModelLines)
	mergeField(&out.QualityGates.CostPerHour, other.QualityGates.CostPerHour, def.QualityGates.CostPerHour)

	mergeField(&out.Logging.Level, other.Logging.Level, def.Logging.Level)
	mergeField(&out.Logging.JSON, other.Logging.JSON, def.Logging.JSON)
	mergeField(&out.Logging.Dir, other.Logging.Dir, def.Logging.Dir)
	mergeField(&out.Logging.Quiet, other.Logging.Quiet, def.Logging.Quiet)

	mergeField(&out.Telemetry.ServiceName, other.Telemetry.ServiceName, def.Telemetry.ServiceName)
	mergeField(&out.Telemetry.Traces, other.Telemetry.Traces, def.Telemetry.Traces)
	mergeField(&out.Telemetry.Metrics, other.Telemetry.Metrics, def.Telemetry.Metrics)
	mergeField(&out.Telemetry.OTLPEndpoint, other.Telemetry.OTLPEndpoint, def.Telemetry.OTLPEndpoint)
	mergeField(&out.Telemetry.Insecure, other.Telemetry.Insecure, def.Telemetry.Insecure)

	mergeField(&out.Server.Addr, other.Server.Addr, def.Server.Addr)
	mergeField(&out.Server.RateLimit, other.Server.RateLimit, def.Server.RateLimit)
	mergeField(&out.Server.Burst, other.Server.Burst, def.Server.Burst)
	mergeField(&out.Server.HistoryLimit, other.Server.HistoryLimit, def.Server.HistoryLimit)

	mergeField(&out.Manifest.Path, other.Manifest.Path, def.Manifest.Path)
	mergeField(&out.Manifest.BaselineResults, other.Manifest.BaselineResults, def.Manifest.BaselineResults)
	mergeField(&out.Manifest.CurrentResults, other.Manifest.CurrentResults, def.Manifest.CurrentResults)
	mergeField(&out.Manifest.CredentialsFile, other.Manifest.CredentialsFile, def.Manifest.CredentialsFile)
	return out
}

func mergeField[T comparable](dst *T, v, def T) {
	if v != def {
		*dst = v
	}
}

// OrchestratorConfig converts the orchestrator section.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Timeout:     time.Duration(c.Orchestrator.TimeoutSeconds) * time.Second,
		MaxRetries:  c.Orchestrator.MaxRetries,
		Parallel:    c.Orchestrator.ParallelExecution,
		FailFast:    c.Orchestrator.FailFast,
		BackoffUnit: time.Duration(c.Orchestrator.BackoffMillis) * time.Millisecond,
	}
}

// QualityConfig converts the quality gates used by the quality routine.
func (c *Config) QualityConfig() quality.Config {
	return quality.Config{
		MinCoverage:   c.QualityGates.MinTestCoverage,
		MaxModelLines: c.QualityGates.MaxModelLines,
	}
}

// PerformanceConfig converts the gates used by the performance routine.
func (c *Config) PerformanceConfig() performance.Config {
	return performance.Config{
		MaxCostIncrease:     c.QualityGates.MaxCostIncrease,
		MaxExecTimeIncrease: c.QualityGates.MaxExecTimeIncrease,
		CostPerHour:         c.QualityGates.CostPerHour,
	}
}

// LoggingConfig converts the logging section. An unknown level falls back
// to Info; Validate rejects it earlier.
func (c *Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}
