// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeset

import "github.com/AleutianAI/AleutianLineage/services/lineage/graph"

// Resolution is the result of mapping changed files to node ids.
type Resolution struct {
	// NodeIDs are the matched ids, deduplicated, in node build order.
	NodeIDs []string

	// Unmatched are changed paths that define no node (docs, macros,
	// deleted models).
	Unmatched []string
}

// ResolveNodeIDs maps files onto nodes whose FilePath equals the file's
// path exactly. A file may define several nodes (a schema file with
// several tests), and every such node is returned.
func ResolveNodeIDs(files []File, nodes []graph.Node) Resolution {
	changed := make(map[string]bool, len(files))
	for _, f := range files {
		changed[f.Path] = true
	}

	matchedPaths := make(map[string]bool, len(files))
	var res Resolution
	for _, n := range nodes {
		if n.FilePath == "" || !changed[n.FilePath] {
			continue
		}
		res.NodeIDs = append(res.NodeIDs, n.ID)
		matchedPaths[n.FilePath] = true
	}

	for _, f := range files {
		if !matchedPaths[f.Path] {
			res.Unmatched = append(res.Unmatched, f.Path)
		}
	}
	return res
}
