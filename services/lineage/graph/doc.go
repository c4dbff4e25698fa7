// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the lineage graph of a data-transformation project
// and the traversal algorithms used to compute the blast radius of a change.
//
// Nodes are models, sources and tests keyed by a stable identifier. An edge
// (from, to) means "from produces data consumed by to", so descendants are
// downstream consumers and ancestors are upstream producers.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                        Lineage Graph                                     │
//	├─────────────────────────────────────────────────────────────────────────┤
//	│                                                                          │
//	│  ┌─────────────┐    ┌─────────────┐    ┌─────────────┐                  │
//	│  │ Node/Edge   │───▶│   Build     │───▶│   Store     │                  │
//	│  │ records     │    │ (index ids) │    │ (read-only) │                  │
//	│  └─────────────┘    └─────────────┘    └─────────────┘                  │
//	│                                               │                          │
//	│                                               ▼                          │
//	│  ┌─────────────┐    ┌─────────────┐    ┌─────────────┐                  │
//	│  │  Cycles     │◀───│  Traversal  │◀───│  Querier    │                  │
//	│  │ (Tarjan)    │    │ (radius,..) │    │ (BFS/DFS)   │                  │
//	│  └─────────────┘    └─────────────┘    └─────────────┘                  │
//	│                                                                          │
//	└─────────────────────────────────────────────────────────────────────────┘
//
// Each node receives a dense integer index at build time. Adjacency in both
// directions is stored as index slices, and identifiers are hashed once per
// query rather than once per traversal step.
//
// # Cycles
//
// Manifests are expected to be acyclic but malformed input may contain
// cycles. Reachability queries terminate on any input because BFS keeps a
// visited set. MaxDepth cuts recursion at a node that is already on the
// current path and counts it as depth 0 there; use Cycles or ReachesCycle to
// find out whether a depth is exact.
//
// # Thread Safety
//
// A Store is immutable after Build returns and is safe for concurrent use
// without locking. Querier holds no mutable state.
package graph
