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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/services/lineage/changeset"
)

// changeFlags selects how changed files are detected. Shared by review
// and impact.
type changeFlags struct {
	diff    bool
	staged  bool
	commit  string
	branch  string
	patch   string
	workDir string
}

func (f *changeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.diff, "diff", false, "Use uncommitted changes (git diff)")
	cmd.Flags().BoolVar(&f.staged, "staged", false, "Use staged changes (git diff --cached)")
	cmd.Flags().StringVar(&f.commit, "commit", "", "Use the changes of one commit")
	cmd.Flags().StringVar(&f.branch, "base", "", "Use changes since the merge base with this branch")
	cmd.Flags().StringVar(&f.patch, "patch", "", "Read changes from a unified diff file ('-' for stdin)")
	cmd.Flags().StringVar(&f.workDir, "repo-dir", ".", "Git working directory")
}

var errMultipleModes = errors.New("use only one of --diff, --staged, --commit, --base, --patch or [files...]")

// resolve returns the changed files. With no selector it falls back to
// the branch mode against main.
func (f *changeFlags) resolve(ctx context.Context, args []string) ([]changeset.File, error) {
	modes := 0
	for _, set := range []bool{f.diff, f.staged, f.commit != "", f.branch != "", f.patch != "", len(args) > 0} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return nil, errMultipleModes
	}

	if f.patch != "" {
		return readPatch(f.patch)
	}

	opts := changeset.Options{Mode: changeset.ModeBranch, BaseBranch: "main"}
	switch {
	case len(args) > 0:
		opts = changeset.Options{Mode: changeset.ModeFiles, Files: args}
	case f.diff:
		opts = changeset.Options{Mode: changeset.ModeDiff}
	case f.staged:
		opts = changeset.Options{Mode: changeset.ModeStaged}
	case f.commit != "":
		opts = changeset.Options{Mode: changeset.ModeCommit, Commit: f.commit}
	case f.branch != "":
		opts = changeset.Options{Mode: changeset.ModeBranch, BaseBranch: f.branch}
	}
	return changeset.NewGitClient(f.workDir).ChangedFiles(ctx, opts)
}

func readPatch(path string) ([]changeset.File, error) {
	if path == "-" {
		return changeset.FromPatch(os.Stdin)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch: %w", err)
	}
	defer fh.Close()
	return changeset.FromPatch(fh)
}
