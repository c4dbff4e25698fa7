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

import (
	"log/slog"
	"sync"
	"time"
)

// Store is an immutable, indexed directed graph of lineage nodes.
//
// Description:
//
//	Every node is assigned a dense integer index at build time. Outgoing
//	and incoming adjacency are stored as index slices so neighbor lookup
//	is O(1) and traversal never hashes identifiers after the initial
//	lookup. Edge order within an adjacency list follows input order, which
//	makes every query deterministic for a given input.
//
// Thread Safety: Store is read-only after Build and safe for concurrent use.
type Store struct {
	nodes []Node
	index map[string]int
	out   [][]int
	in    [][]int

	edgeCount int
	dropped   []Edge
	builtAt   time.Time

	// Strongly connected component membership, computed on first use.
	sccOnce sync.Once
	cyclic  []bool
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report dropped edges.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// Build constructs a Store from node and edge records.
//
// Description:
//
//	Nodes are indexed in input order. Edges whose endpoints are not both
//	present are dropped and logged, because manifests routinely reference
//	nodes resolved outside the project. Repeated edges between the same
//	pair are stored once. Self-loops are kept.
//
// Inputs:
//
//	nodes - Node records. IDs must be unique and non-empty.
//	edges - Dependency edges (producer to consumer).
//	opts - Optional configuration.
//
// Outputs:
//
//	*Store - The read-only graph.
//	error - *DuplicateIDError when two nodes share an id, ErrEmptyID for
//	        a node without id.
func Build(nodes []Node, edges []Edge, opts ...BuildOption) (*Store, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		nodes: make([]Node, 0, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, ErrEmptyID
		}
		if _, exists := s.index[n.ID]; exists {
			return nil, &DuplicateIDError{ID: n.ID}
		}
		s.index[n.ID] = len(s.nodes)
		s.nodes = append(s.nodes, n)
	}

	s.out = make([][]int, len(s.nodes))
	s.in = make([][]int, len(s.nodes))

	type pair struct{ from, to int }
	seen := make(map[pair]struct{}, len(edges))

	for _, e := range edges {
		from, okFrom := s.index[e.From]
		to, okTo := s.index[e.To]
		if !okFrom || !okTo {
			s.dropped = append(s.dropped, e)
			logger.Warn("dropping dangling edge",
				slog.String("from", e.From),
				slog.String("to", e.To),
				slog.Bool("from_known", okFrom),
				slog.Bool("to_known", okTo),
			)
			continue
		}
		p := pair{from, to}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		s.out[from] = append(s.out[from], to)
		s.in[to] = append(s.in[to], from)
		s.edgeCount++
	}

	s.builtAt = time.Now()
	logger.Debug("lineage graph built",
		slog.Int("nodes", len(s.nodes)),
		slog.Int("edges", s.edgeCount),
		slog.Int("dropped_edges", len(s.dropped)),
	)
	return s, nil
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	return len(s.nodes)
}

// EdgeCount returns the number of distinct edges.
func (s *Store) EdgeCount() int {
	return s.edgeCount
}

// HasNode reports whether id is present.
func (s *Store) HasNode(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Node returns the node record for id.
func (s *Store) Node(id string) (Node, error) {
	i, err := s.lookup(id)
	if err != nil {
		return Node{}, err
	}
	return s.nodes[i], nil
}

// Nodes returns all nodes in build order. The slice is a copy.
func (s *Store) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// DroppedEdges returns the dangling edges discarded by Build.
func (s *Store) DroppedEdges() []Edge {
	out := make([]Edge, len(s.dropped))
	copy(out, s.dropped)
	return out
}

// BuiltAt returns when Build completed.
func (s *Store) BuiltAt() time.Time {
	return s.builtAt
}

// NeighborsOut returns the direct consumers of id.
func (s *Store) NeighborsOut(id string) ([]string, error) {
	i, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.ids(s.out[i]), nil
}

// NeighborsIn returns the direct producers of id.
func (s *Store) NeighborsIn(id string) ([]string, error) {
	i, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.ids(s.in[i]), nil
}

// lookup resolves an id to its dense index.
func (s *Store) lookup(id string) (int, error) {
	i, ok := s.index[id]
	if !ok {
		return 0, &NodeNotFoundError{ID: id}
	}
	return i, nil
}

// adjacency returns the index lists for the given direction.
func (s *Store) adjacency(dir Direction) [][]int {
	if dir == Upstream {
		return s.in
	}
	return s.out
}

// ids converts indices to identifiers.
func (s *Store) ids(indices []int) []string {
	out := make([]string, len(indices))
	for k, i := range indices {
		out[k] = s.nodes[i].ID
	}
	return out
}
