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

import "context"

// ctxCheckInterval is how many node expansions the truncating depth walk
// performs between context checks.
const ctxCheckInterval = 1024

// Querier executes read-only traversals over a Store.
//
// # Thread Safety
//
// Querier is safe for concurrent use.
type Querier struct {
	store *Store
}

// NewQuerier creates a new Querier for the given store.
//
// # Inputs
//
//   - store: The lineage graph. Must not be nil.
//
// # Outputs
//
//   - *Querier: The querier instance.
func NewQuerier(store *Store) *Querier {
	return &Querier{store: store}
}

// Store returns the underlying graph.
func (q *Querier) Store() *Store {
	return q.store
}

// Descendants returns every node reachable from id along outgoing edges,
// excluding id itself, in breadth-first discovery order.
//
// # Inputs
//
//   - id: Start node.
//
// # Outputs
//
//   - []string: Downstream node ids. Empty when id is a leaf.
//   - error: *NodeNotFoundError when id is absent.
func (q *Querier) Descendants(id string) ([]string, error) {
	start, err := q.store.lookup(id)
	if err != nil {
		return nil, err
	}
	return q.store.ids(q.bfs(start, Downstream)), nil
}

// Ancestors returns every node that can reach id, excluding id itself.
//
// # Inputs
//
//   - id: Start node.
//
// # Outputs
//
//   - []string: Upstream node ids.
//   - error: *NodeNotFoundError when id is absent.
func (q *Querier) Ancestors(id string) ([]string, error) {
	start, err := q.store.lookup(id)
	if err != nil {
		return nil, err
	}
	return q.store.ids(q.bfs(start, Upstream)), nil
}

// bfs walks from start and returns visited indices excluding start.
func (q *Querier) bfs(start int, dir Direction) []int {
	adj := q.store.adjacency(dir)
	visited := make([]bool, len(q.store.nodes))
	visited[start] = true

	queue := []int{start}
	var found []int

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range adj[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			found = append(found, next)
			queue = append(queue, next)
		}
	}
	return found
}

// Leaves returns nodes without outgoing edges, in build order.
func (q *Querier) Leaves() []string {
	var out []string
	for i, n := range q.store.nodes {
		if len(q.store.out[i]) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// Roots returns nodes without incoming edges, in build order.
func (q *Querier) Roots() []string {
	var out []string
	for i, n := range q.store.nodes {
		if len(q.store.in[i]) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// MaxDepth returns the length in edges of the longest path from id to a
// node with no further outgoing edges. It is MaxDepthContext without a
// deadline.
func (q *Querier) MaxDepth(id string) (int, error) {
	return q.MaxDepthContext(context.Background(), id)
}

// MaxDepthContext returns the length in edges of the longest path from id
// to a node with no further outgoing edges.
//
// # Description
//
// When nothing reachable from id lies on a cycle the result is the exact
// longest path, computed with memoised DFS. Otherwise the traversal keeps
// an in-progress set and counts a node already on the current path as
// depth 0, which truncates the depth at the cycle point. Callers that need
// to know whether the value is exact should check ReachesCycle.
//
// # Outputs
//
//   - int: Depth in edges. 0 for a leaf.
//   - error: *NodeNotFoundError when id is absent, or ctx.Err() when the
//     truncating walk is cancelled.
//
// # Limitations
//
//   - On cyclic input the truncating walk is exponential in the worst case.
//     It checks ctx every ctxCheckInterval expansions.
func (q *Querier) MaxDepthContext(ctx context.Context, id string) (int, error) {
	start, err := q.store.lookup(id)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cyclic, err := q.ReachesCycle(id)
	if err != nil {
		return 0, err
	}
	if !cyclic {
		memo := make([]int, len(q.store.nodes))
		for i := range memo {
			memo[i] = -1
		}
		return q.depthAcyclic(start, memo), nil
	}

	w := truncatedWalk{q: q, ctx: ctx, inProgress: make([]bool, len(q.store.nodes))}
	depth := w.depth(start)
	if w.err != nil {
		return 0, w.err
	}
	return depth, nil
}

func (q *Querier) depthAcyclic(i int, memo []int) int {
	if memo[i] >= 0 {
		return memo[i]
	}
	best := 0
	for _, next := range q.store.out[i] {
		if d := q.depthAcyclic(next, memo) + 1; d > best {
			best = d
		}
	}
	memo[i] = best
	return best
}

// truncatedWalk is the depth walk used when a cycle is reachable. Once err
// is set every frame unwinds without expanding further.
type truncatedWalk struct {
	q          *Querier
	ctx        context.Context
	inProgress []bool
	expanded   int
	err        error
}

func (w *truncatedWalk) depth(i int) int {
	if w.err != nil || w.inProgress[i] {
		return 0
	}
	out := w.q.store.out[i]
	if len(out) == 0 {
		return 0
	}

	w.expanded++
	if w.expanded%ctxCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			w.err = err
			return 0
		}
	}

	w.inProgress[i] = true
	best := 0
	for _, next := range out {
		if d := w.depth(next) + 1; d > best {
			best = d
		}
		if w.err != nil {
			break
		}
	}
	w.inProgress[i] = false
	return best
}

// ShortestPath returns the node sequence of a shortest path from one node
// to another, both inclusive.
//
// # Outputs
//
//   - []string: The path, or nil when to is unreachable from from.
//   - error: *NodeNotFoundError when either endpoint is absent.
func (q *Querier) ShortestPath(from, to string) ([]string, error) {
	src, err := q.store.lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := q.store.lookup(to)
	if err != nil {
		return nil, err
	}
	if src == dst {
		return []string{from}, nil
	}

	parent := make([]int, len(q.store.nodes))
	for i := range parent {
		parent[i] = -1
	}
	visited := make([]bool, len(q.store.nodes))
	visited[src] = true
	queue := []int{src}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range q.store.out[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = current
			if next == dst {
				return q.reconstruct(parent, src, dst), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, nil
}

func (q *Querier) reconstruct(parent []int, src, dst int) []string {
	var rev []int
	for at := dst; at != src; at = parent[at] {
		rev = append(rev, at)
	}
	rev = append(rev, src)

	path := make([]string, len(rev))
	for i := range rev {
		path[i] = q.store.nodes[rev[len(rev)-1-i]].ID
	}
	return path
}

// HasPath reports whether to is reachable from from along outgoing edges.
// The empty path counts, so HasPath(x, x) is true.
func (q *Querier) HasPath(from, to string) (bool, error) {
	src, err := q.store.lookup(from)
	if err != nil {
		return false, err
	}
	dst, err := q.store.lookup(to)
	if err != nil {
		return false, err
	}
	if src == dst {
		return true, nil
	}

	visited := make([]bool, len(q.store.nodes))
	visited[src] = true
	queue := []int{src}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range q.store.out[current] {
			if next == dst {
				return true, nil
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return false, nil
}

// DirectDependencies returns the immediate upstream nodes of id.
func (q *Querier) DirectDependencies(id string) ([]string, error) {
	return q.store.NeighborsIn(id)
}

// DirectDependents returns the immediate downstream nodes of id.
func (q *Querier) DirectDependents(id string) ([]string, error) {
	return q.store.NeighborsOut(id)
}

// Statistics computes node, edge, leaf and root counts and the mean total
// degree in a single pass.
func (q *Querier) Statistics() Statistics {
	stats := Statistics{
		NodeCount:   len(q.store.nodes),
		EdgeCount:   q.store.edgeCount,
		NodesByKind: make(map[Kind]int),
	}

	totalDegree := 0
	for i, n := range q.store.nodes {
		outDeg := len(q.store.out[i])
		inDeg := len(q.store.in[i])
		if outDeg == 0 {
			stats.LeafCount++
		}
		if inDeg == 0 {
			stats.RootCount++
		}
		totalDegree += outDeg + inDeg
		stats.NodesByKind[n.Kind]++
	}

	if stats.NodeCount > 0 {
		stats.AverageDegree = float64(totalDegree) / float64(stats.NodeCount)
	}
	return stats
}
