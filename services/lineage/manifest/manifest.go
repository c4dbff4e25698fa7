// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest decodes dbt build artifacts into lineage graph records.
//
// manifest.json supplies nodes (models, tests, seeds, snapshots) and
// sources together with their declared dependencies. run_results.json
// supplies per-node execution times used by the performance routine.
// Artifacts are read from local paths or gs://bucket/object locations.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
)

// MinSupportedVersion is the oldest dbt release whose manifest layout
// (depends_on.nodes, original_file_path, raw_code) is understood.
const MinSupportedVersion = "v1.0.0"

var (
	// ErrInvalidManifest is returned for malformed artifacts.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrUnsupportedVersion is returned for artifacts produced by a dbt
	// release older than MinSupportedVersion.
	ErrUnsupportedVersion = errors.New("unsupported dbt version")
)

// Attribute keys set on graph nodes.
const (
	AttrName         = "name"
	AttrDatabase     = "database"
	AttrSchema       = "schema"
	AttrDescription  = "description"
	AttrMaterialized = "materialized"
	AttrAdapterType  = "adapter_type"
	AttrRawCode      = "raw_code"
	AttrColumns      = "columns"
	AttrDistKey      = "dist_key"
	AttrSortKey      = "sort_key"
)

// Metadata is the manifest header.
type Metadata struct {
	DbtVersion  string `json:"dbt_version"`
	AdapterType string `json:"adapter_type"`
	ProjectName string `json:"project_name"`
	GeneratedAt string `json:"generated_at"`
}

// Column is a documented column of a model.
type Column struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Description string `json:"description"`
}

type dependsOn struct {
	Nodes  []string `json:"nodes"`
	Macros []string `json:"macros"`
}

type rawNode struct {
	UniqueID         string            `json:"unique_id"`
	Name             string            `json:"name"`
	ResourceType     string            `json:"resource_type"`
	OriginalFilePath string            `json:"original_file_path"`
	Database         *string           `json:"database"`
	Schema           *string           `json:"schema"`
	Description      string            `json:"description"`
	DependsOn        *dependsOn        `json:"depends_on"`
	Config           map[string]any    `json:"config"`
	Columns          map[string]Column `json:"columns"`
	RawCode          string            `json:"raw_code"`
	RawSQL           string            `json:"raw_sql"`
}

type rawManifest struct {
	Metadata Metadata           `json:"metadata"`
	Nodes    map[string]rawNode `json:"nodes"`
	Sources  map[string]rawNode `json:"sources"`
}

// Manifest is a decoded manifest ready for graph.Build.
type Manifest struct {
	Metadata Metadata
	Nodes    []graph.Node
	Edges    []graph.Edge
}

// Option configures Parse.
type Option func(*parseOptions)

type parseOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for version warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *parseOptions) {
		o.logger = logger
	}
}

// Parse decodes a manifest.json document.
//
// Description:
//
//	Nodes and sources are emitted sorted by unique id so a given manifest
//	always yields the same graph. Each depends_on.nodes entry becomes an
//	edge from the dependency to the dependent. Dependencies on ids absent
//	from the manifest are kept as edges; graph.Build drops and logs them.
//
// Outputs:
//
//	*Manifest - Decoded records.
//	error - ErrInvalidManifest for malformed JSON or a document without
//	        nodes, ErrUnsupportedVersion for dbt older than
//	        MinSupportedVersion.
func Parse(r io.Reader, opts ...Option) (*Manifest, error) {
	o := parseOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var raw rawManifest
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if raw.Nodes == nil {
		return nil, fmt.Errorf("%w: missing nodes", ErrInvalidManifest)
	}

	if err := CheckVersion(raw.Metadata.DbtVersion); err != nil {
		if errors.Is(err, ErrUnsupportedVersion) {
			return nil, err
		}
		o.logger.Warn("cannot determine dbt version",
			slog.String("dbt_version", raw.Metadata.DbtVersion),
			slog.String("error", err.Error()),
		)
	}

	m := &Manifest{Metadata: raw.Metadata}
	appendNodes(m, raw.Nodes, raw.Metadata.AdapterType)
	appendNodes(m, raw.Sources, raw.Metadata.AdapterType)

	o.logger.Debug("manifest parsed",
		slog.String("project", raw.Metadata.ProjectName),
		slog.Int("nodes", len(m.Nodes)),
		slog.Int("edges", len(m.Edges)),
	)
	return m, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte, opts ...Option) (*Manifest, error) {
	return Parse(bytes.NewReader(data), opts...)
}

// CheckVersion validates a dbt version string such as "1.7.4".
// It returns ErrUnsupportedVersion for releases older than
// MinSupportedVersion and a plain error when the version is unparseable.
func CheckVersion(v string) error {
	canonical := v
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}
	// dbt pre-releases use "1.8.0b1"; semver wants "1.8.0-b1".
	canonical = normalizePrerelease(canonical)

	if !semver.IsValid(canonical) {
		return fmt.Errorf("invalid dbt version %q", v)
	}
	if semver.Compare(canonical, MinSupportedVersion) < 0 {
		return fmt.Errorf("%w: %s (minimum %s)", ErrUnsupportedVersion, v, MinSupportedVersion)
	}
	return nil
}

func normalizePrerelease(v string) string {
	for i := 1; i < len(v); i++ {
		c := v[i]
		if c == '.' || (c >= '0' && c <= '9') {
			continue
		}
		if c == '-' || c == '+' {
			return v
		}
		return v[:i] + "-" + v[i:]
	}
	return v
}

func appendNodes(m *Manifest, raw map[string]rawNode, adapter string) {
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rn := raw[id]
		if rn.UniqueID == "" {
			rn.UniqueID = id
		}
		m.Nodes = append(m.Nodes, toNode(rn, adapter))

		if rn.DependsOn == nil {
			continue
		}
		for _, dep := range rn.DependsOn.Nodes {
			m.Edges = append(m.Edges, graph.Edge{From: dep, To: rn.UniqueID})
		}
	}
}

func toNode(rn rawNode, adapter string) graph.Node {
	attrs := make(map[string]any, len(rn.Config)+8)
	for k, v := range rn.Config {
		attrs[k] = v
	}
	if _, ok := attrs[AttrMaterialized]; !ok {
		attrs[AttrMaterialized] = "view"
	}
	// Redshift configs are spelled dist/sort in dbt.
	if v, ok := rn.Config["dist"]; ok && attrs[AttrDistKey] == nil {
		attrs[AttrDistKey] = v
	}
	if v, ok := rn.Config["sort"]; ok && attrs[AttrSortKey] == nil {
		attrs[AttrSortKey] = v
	}

	attrs[AttrName] = rn.Name
	attrs[AttrDescription] = rn.Description
	if rn.Database != nil {
		attrs[AttrDatabase] = *rn.Database
	}
	if rn.Schema != nil {
		attrs[AttrSchema] = *rn.Schema
	}
	if adapter != "" {
		attrs[AttrAdapterType] = adapter
	}

	code := rn.RawCode
	if code == "" {
		code = rn.RawSQL
	}
	if code != "" {
		attrs[AttrRawCode] = code
	}
	if len(rn.Columns) > 0 {
		cols := make(map[string]Column, len(rn.Columns))
		for name, c := range rn.Columns {
			if c.Name == "" {
				c.Name = name
			}
			cols[name] = c
		}
		attrs[AttrColumns] = cols
	}

	return graph.Node{
		ID:         rn.UniqueID,
		Kind:       graph.ParseKind(rn.ResourceType),
		FilePath:   rn.OriginalFilePath,
		Attributes: attrs,
	}
}

// Columns returns the documented columns stored on a node by Parse.
func Columns(n graph.Node) map[string]Column {
	v, ok := n.Attr(AttrColumns)
	if !ok {
		return nil
	}
	cols, _ := v.(map[string]Column)
	return cols
}
