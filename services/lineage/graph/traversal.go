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

// Reachable returns the start nodes plus everything reachable from any of
// them in the given direction. Start nodes come first, in input order,
// followed by the rest in breadth-first order. Duplicated starts are
// reported once.
func (q *Querier) Reachable(starts []string, dir Direction) ([]string, error) {
	adj := q.store.adjacency(dir)
	visited := make([]bool, len(q.store.nodes))

	queue := make([]int, 0, len(starts))
	for _, id := range starts {
		i, err := q.store.lookup(id)
		if err != nil {
			return nil, err
		}
		if visited[i] {
			continue
		}
		visited[i] = true
		queue = append(queue, i)
	}

	order := append([]int(nil), queue...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adj[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			order = append(order, next)
			queue = append(queue, next)
		}
	}
	return q.store.ids(order), nil
}

// FindPath returns some path from one node to another by depth-first
// search in the given direction, or nil when none exists. Unlike
// ShortestPath the result need not be minimal.
func (q *Querier) FindPath(from, to string, dir Direction) ([]string, error) {
	src, err := q.store.lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := q.store.lookup(to)
	if err != nil {
		return nil, err
	}

	adj := q.store.adjacency(dir)
	visited := make([]bool, len(q.store.nodes))
	var path []int

	var dfs func(i int) bool
	dfs = func(i int) bool {
		visited[i] = true
		path = append(path, i)
		if i == dst {
			return true
		}
		for _, next := range adj[i] {
			if !visited[next] && dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if !dfs(src) {
		return nil, nil
	}
	return q.store.ids(path), nil
}

// ImpactRadius maps every node downstream of the changed set to the
// minimum number of edges separating it from any changed node.
//
// # Inputs
//
//   - changed: Changed node ids.
//   - maxDepth: Stop expanding beyond this many edges. 0 means unbounded.
//
// # Outputs
//
//   - map[string]int: Node id to minimum depth. A changed node appears only
//     when it is downstream of another changed node.
//   - error: *NodeNotFoundError for an unknown changed id.
func (q *Querier) ImpactRadius(changed []string, maxDepth int) (map[string]int, error) {
	radius := make(map[string]int)

	for _, id := range changed {
		start, err := q.store.lookup(id)
		if err != nil {
			return nil, err
		}

		type item struct{ node, depth int }
		visited := make([]bool, len(q.store.nodes))
		visited[start] = true
		queue := []item{{start, 0}}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if maxDepth > 0 && cur.depth >= maxDepth {
				continue
			}
			for _, next := range q.store.out[cur.node] {
				if visited[next] {
					continue
				}
				visited[next] = true
				d := cur.depth + 1
				nid := q.store.nodes[next].ID
				if prev, ok := radius[nid]; !ok || d < prev {
					radius[nid] = d
				}
				queue = append(queue, item{next, d})
			}
		}
	}
	return radius, nil
}

// CriticalPath returns the longest simple downstream path starting at id.
//
// # Description
//
// Backtracking DFS over simple paths. The first longest path found in
// adjacency order wins. The length is the number of nodes on the path, so
// a leaf yields ([id], 1).
//
// # Limitations
//
//   - Exponential in the worst case. Intended for interactive inspection of
//     a single node, not for bulk scoring.
func (q *Querier) CriticalPath(id string) ([]string, int, error) {
	start, err := q.store.lookup(id)
	if err != nil {
		return nil, 0, err
	}

	onPath := make([]bool, len(q.store.nodes))
	var current, best []int

	var walk func(i int)
	walk = func(i int) {
		onPath[i] = true
		current = append(current, i)

		extended := false
		for _, next := range q.store.out[i] {
			if onPath[next] {
				continue
			}
			extended = true
			walk(next)
		}
		if !extended && len(current) > len(best) {
			best = append(best[:0], current...)
		}

		current = current[:len(current)-1]
		onPath[i] = false
	}
	walk(start)

	return q.store.ids(best), len(best), nil
}

// Subgraph restricts the downstream adjacency to the given ids. Every id
// becomes a key, mapped to its direct dependents that are also in ids.
func (q *Querier) Subgraph(ids []string) (map[string][]string, error) {
	member := make(map[int]bool, len(ids))
	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		i, err := q.store.lookup(id)
		if err != nil {
			return nil, err
		}
		member[i] = true
		indices = append(indices, i)
	}

	sub := make(map[string][]string, len(indices))
	for _, i := range indices {
		kept := make([]string, 0, len(q.store.out[i]))
		for _, next := range q.store.out[i] {
			if member[next] {
				kept = append(kept, q.store.nodes[next].ID)
			}
		}
		sub[q.store.nodes[i].ID] = kept
	}
	return sub, nil
}
