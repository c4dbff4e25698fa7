// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "strings"

// Kind classifies a node.
//
// Model, Source and Test are the kinds the impact analysis understands.
// Other resource types (seeds, snapshots, analyses) may be stored in the
// graph and participate in traversal, but are not classified downstream.
type Kind string

const (
	KindModel  Kind = "model"
	KindSource Kind = "source"
	KindTest   Kind = "test"
)

// ParseKind normalises a resource type string to a Kind.
func ParseKind(s string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(s)))
}

// Known returns true for the kinds the impact analysis classifies.
func (k Kind) Known() bool {
	switch k {
	case KindModel, KindSource, KindTest:
		return true
	default:
		return false
	}
}

// Node is a single model, source or test in the lineage graph.
//
// Identity is the ID. Attributes carry the manifest configuration needed by
// analysis heuristics (materialization, database, partition_by, ...).
type Node struct {
	// ID is the globally unique identifier, e.g. "model.shop.stg_orders".
	ID string `json:"id"`

	// Kind is the resource type.
	Kind Kind `json:"kind"`

	// FilePath is the project-relative path of the defining file.
	FilePath string `json:"file_path,omitempty"`

	// Attributes is an opaque map of node configuration.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Attr returns the attribute stored under key.
func (n Node) Attr(key string) (any, bool) {
	if n.Attributes == nil {
		return nil, false
	}
	v, ok := n.Attributes[key]
	return v, ok
}

// StringAttr returns the attribute under key when it is a string, or "".
func (n Node) StringAttr(key string) string {
	v, ok := n.Attr(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// HasAttr returns true if key is present with a non-nil value.
func (n Node) HasAttr(key string) bool {
	v, ok := n.Attr(key)
	return ok && v != nil
}

// Edge is a dependency: From produces data consumed by To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Direction selects which adjacency a traversal follows.
type Direction int

const (
	// Downstream follows outgoing edges (producer to consumer).
	Downstream Direction = iota

	// Upstream follows incoming edges (consumer to producer).
	Upstream
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Statistics summarises a Store.
type Statistics struct {
	NodeCount     int          `json:"node_count"`
	EdgeCount     int          `json:"edge_count"`
	LeafCount     int          `json:"leaf_count"`
	RootCount     int          `json:"root_count"`
	AverageDegree float64      `json:"average_degree"`
	NodesByKind   map[Kind]int `json:"nodes_by_kind"`
}
