// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/pkg/ux"
	"github.com/AleutianAI/AleutianLineage/services/lineage/graph"
	"github.com/AleutianAI/AleutianLineage/services/lineage/review"
)

var (
	graphManifest string
	graphJSON     bool
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Query the lineage graph",
	Long: `Inspect the lineage graph built from the manifest.

Examples:
  lineage graph stats
  lineage graph descendants model.shop.stg_orders
  lineage graph path source.shop.raw.orders model.shop.revenue
  lineage graph cycles --json`,
}

var graphStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Node, edge and cycle counts",
	Args:  cobra.NoArgs,
	RunE: withQuerier(func(_ context.Context, w io.Writer, q *graph.Querier, _ []string) error {
		stats := q.Statistics()
		cycles := q.Cycles()
		dropped := q.Store().DroppedEdges()
		if graphJSON {
			return writeJSON(w, map[string]any{
				"statistics":    stats,
				"cycles":        len(cycles),
				"dropped_edges": len(dropped),
			})
		}
		p := ux.NewPrinter(w)
		p.Title("Lineage graph")
		p.KV("Nodes", strconv.Itoa(stats.NodeCount))
		p.KV("Edges", strconv.Itoa(stats.EdgeCount))
		p.KV("Roots", strconv.Itoa(stats.RootCount))
		p.KV("Leaves", strconv.Itoa(stats.LeafCount))
		p.KV("Average degree", fmt.Sprintf("%.2f", stats.AverageDegree))
		p.KV("Cycles", strconv.Itoa(len(cycles)))
		p.KV("Dropped edges", strconv.Itoa(len(dropped)))
		kinds := make([]string, 0, len(stats.NodesByKind))
		for kind := range stats.NodesByKind {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			p.KV("  "+kind, strconv.Itoa(stats.NodesByKind[graph.Kind(kind)]))
		}
		return nil
	}),
}

var graphDescendantsCmd = &cobra.Command{
	Use:   "descendants <node-id>",
	Short: "Nodes downstream of a node",
	Args:  cobra.ExactArgs(1),
	RunE: withQuerier(func(_ context.Context, w io.Writer, q *graph.Querier, args []string) error {
		ids, err := q.Descendants(args[0])
		if err != nil {
			return err
		}
		return printIDs(w, ids)
	}),
}

var graphAncestorsCmd = &cobra.Command{
	Use:   "ancestors <node-id>",
	Short: "Nodes upstream of a node",
	Args:  cobra.ExactArgs(1),
	RunE: withQuerier(func(_ context.Context, w io.Writer, q *graph.Querier, args []string) error {
		ids, err := q.Ancestors(args[0])
		if err != nil {
			return err
		}
		return printIDs(w, ids)
	}),
}

var graphPathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Shortest downstream path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: withQuerier(func(_ context.Context, w io.Writer, q *graph.Querier, args []string) error {
		path, err := q.ShortestPath(args[0], args[1])
		if err != nil {
			return err
		}
		if graphJSON {
			return writeJSON(w, map[string]any{"path": path, "found": path != nil})
		}
		if path == nil {
			fmt.Fprintf(w, "no path from %s to %s\n", args[0], args[1])
			return nil
		}
		fmt.Fprintln(w, strings.Join(path, " "+string(ux.IconArrow)+" "))
		return nil
	}),
}

var graphDepthCmd = &cobra.Command{
	Use:   "depth <node-id>",
	Short: "Longest downstream distance from a node",
	Args:  cobra.ExactArgs(1),
	RunE: withQuerier(func(ctx context.Context, w io.Writer, q *graph.Querier, args []string) error {
		depth, err := q.MaxDepthContext(ctx, args[0])
		if err != nil {
			return err
		}
		approx, err := q.ReachesCycle(args[0])
		if err != nil {
			return err
		}
		if graphJSON {
			return writeJSON(w, map[string]any{"depth": depth, "approximate": approx})
		}
		if approx {
			fmt.Fprintf(w, "%d (approximate: a cycle is reachable)\n", depth)
			return nil
		}
		fmt.Fprintln(w, depth)
		return nil
	}),
}

var graphCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Dependency cycles in the graph",
	Args:  cobra.NoArgs,
	RunE: withQuerier(func(_ context.Context, w io.Writer, q *graph.Querier, _ []string) error {
		cycles := q.Cycles()
		if graphJSON {
			return writeJSON(w, map[string]any{"cycles": cycles})
		}
		p := ux.NewPrinter(w)
		if len(cycles) == 0 {
			p.Success("no cycles")
			return nil
		}
		for _, c := range cycles {
			p.Warning(strings.Join(c, ", "))
		}
		return nil
	}),
}

var graphCriticalPathCmd = &cobra.Command{
	Use:   "critical-path <node-id>",
	Short: "Longest simple downstream path from a node",
	Args:  cobra.ExactArgs(1),
	RunE: withQuerier(func(_ context.Context, w io.Writer, q *graph.Querier, args []string) error {
		path, length, err := q.CriticalPath(args[0])
		if err != nil {
			return err
		}
		if graphJSON {
			return writeJSON(w, map[string]any{"path": path, "length": length})
		}
		fmt.Fprintf(w, "%d nodes: %s\n", length, strings.Join(path, " "+string(ux.IconArrow)+" "))
		return nil
	}),
}

func init() {
	graphCmd.PersistentFlags().StringVar(&graphManifest, "manifest", "", "Manifest location (default from config)")
	graphCmd.PersistentFlags().BoolVar(&graphJSON, "json", false, "Print JSON")

	graphCmd.AddCommand(
		graphStatsCmd,
		graphDescendantsCmd,
		graphAncestorsCmd,
		graphPathCmd,
		graphDepthCmd,
		graphCyclesCmd,
		graphCriticalPathCmd,
	)
}

// withQuerier loads the graph and hands a Querier to fn.
func withQuerier(fn func(ctx context.Context, w io.Writer, q *graph.Querier, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc := review.New(cfg, review.WithLogger(logger.Slog()))
		defer svc.Close()

		entry, err := svc.Graph(cmd.Context(), graphManifest)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), cmd.OutOrStdout(), graph.NewQuerier(entry.Store), args)
	}
}

func printIDs(w io.Writer, ids []string) error {
	if graphJSON {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(w, map[string]any{"nodes": ids, "count": len(ids)})
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}
