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

import "sort"

// =============================================================================
// Cycle Detection (Tarjan's SCC)
// =============================================================================

// Cycles returns every cycle in the graph as a strongly connected component.
//
// Description:
//
//	Uses Tarjan's algorithm with an explicit call stack so deep lineage
//	chains cannot overflow the goroutine stack. Components with more than
//	one node are cycles, and so is a single node with a self-loop.
//
//	Time complexity: O(V + E)
//	Space complexity: O(V)
//
// Outputs:
//
//	[][]string - Cycles sorted by size descending, then by first id. Each
//	             component lists its ids in sorted order.
//
// Thread Safety: Safe for concurrent use.
func (q *Querier) Cycles() [][]string {
	comps := q.store.components()

	out := make([][]string, 0, len(comps))
	for _, comp := range comps {
		if !q.store.isCycle(comp) {
			continue
		}
		ids := q.store.ids(comp)
		sort.Strings(ids)
		out = append(out, ids)
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}

// InCycle reports whether id lies on a cycle.
func (q *Querier) InCycle(id string) (bool, error) {
	i, err := q.store.lookup(id)
	if err != nil {
		return false, err
	}
	return q.store.cyclicSet()[i], nil
}

// ReachesCycle reports whether id or any node downstream of it lies on a
// cycle. When false, depth queries from id are exact.
func (q *Querier) ReachesCycle(id string) (bool, error) {
	start, err := q.store.lookup(id)
	if err != nil {
		return false, err
	}
	cyclic := q.store.cyclicSet()
	if cyclic[start] {
		return true, nil
	}
	for _, i := range q.bfs(start, Downstream) {
		if cyclic[i] {
			return true, nil
		}
	}
	return false, nil
}

// cyclicSet returns per-index cycle membership, computed once per Store.
func (s *Store) cyclicSet() []bool {
	s.sccOnce.Do(func() {
		s.cyclic = make([]bool, len(s.nodes))
		for _, comp := range s.components() {
			if !s.isCycle(comp) {
				continue
			}
			for _, i := range comp {
				s.cyclic[i] = true
			}
		}
	})
	return s.cyclic
}

// isCycle reports whether a strongly connected component is a cycle.
func (s *Store) isCycle(comp []int) bool {
	if len(comp) > 1 {
		return true
	}
	i := comp[0]
	for _, next := range s.out[i] {
		if next == i {
			return true
		}
	}
	return false
}

// components runs Tarjan's algorithm over the whole graph.
func (s *Store) components() [][]int {
	n := len(s.nodes)
	index := make([]int, n)
	lowLink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	counter := 0
	var stack []int
	var comps [][]int

	// callFrame replaces a recursive strongconnect call.
	type callFrame struct {
		node      int
		edgeIndex int
		phase     int // 0=init, 1=process edges, 2=post-child, 3=finalize
		child     int
	}

	for root := 0; root < n; root++ {
		if index[root] >= 0 {
			continue
		}

		calls := []callFrame{{node: root}}
		for len(calls) > 0 {
			frame := &calls[len(calls)-1]

			switch frame.phase {
			case 0:
				index[frame.node] = counter
				lowLink[frame.node] = counter
				counter++
				stack = append(stack, frame.node)
				onStack[frame.node] = true
				frame.phase = 1

			case 1:
				pushed := false
				for frame.edgeIndex < len(s.out[frame.node]) {
					next := s.out[frame.node][frame.edgeIndex]
					frame.edgeIndex++

					if index[next] < 0 {
						frame.phase = 2
						frame.child = next
						calls = append(calls, callFrame{node: next})
						pushed = true
						break
					}
					if onStack[next] && index[next] < lowLink[frame.node] {
						lowLink[frame.node] = index[next]
					}
				}
				if !pushed {
					frame.phase = 3
				}

			case 2:
				if lowLink[frame.child] < lowLink[frame.node] {
					lowLink[frame.node] = lowLink[frame.child]
				}
				frame.phase = 1

			case 3:
				if lowLink[frame.node] == index[frame.node] {
					var comp []int
					for {
						w := stack[len(stack)-1]
						stack = stack[:len(stack)-1]
						onStack[w] = false
						comp = append(comp, w)
						if w == frame.node {
							break
						}
					}
					comps = append(comps, comp)
				}
				calls = calls[:len(calls)-1]
			}
		}
	}
	return comps
}
