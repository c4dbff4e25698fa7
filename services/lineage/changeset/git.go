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

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// GitClient reads changed files from a git working copy.
//
// # Thread Safety
//
// GitClient is safe for concurrent use.
type GitClient struct {
	workDir string
}

// NewGitClient creates a GitClient rooted at workDir.
func NewGitClient(workDir string) *GitClient {
	return &GitClient{workDir: workDir}
}

// IsGitRepo reports whether workDir is inside a git repository.
func (g *GitClient) IsGitRepo(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = g.workDir
	return cmd.Run() == nil
}

// ChangedFiles returns the changed files selected by opts.
//
// # Description
//
// Git modes run `--name-status` for status and paths, then `--numstat`
// over the same revision range for line counts. Binary files report zero
// counts. ModeFiles does not touch git and marks every file Modified.
//
// # Outputs
//
//   - []File: Changed files in git output order.
//   - error: ErrUnknownMode, ErrMissingRevision, or a wrapped git failure.
func (g *GitClient) ChangedFiles(ctx context.Context, opts Options) ([]File, error) {
	var args []string

	switch opts.Mode {
	case ModeFiles:
		return FromList(opts.Files), nil
	case ModeDiff, "":
		args = []string{"diff"}
	case ModeStaged:
		args = []string{"diff", "--cached"}
	case ModeCommit:
		if opts.Commit == "" {
			return nil, fmt.Errorf("%w: commit", ErrMissingRevision)
		}
		args = []string{"show", "--format=", opts.Commit}
	case ModeBranch:
		if opts.BaseBranch == "" {
			return nil, fmt.Errorf("%w: branch", ErrMissingRevision)
		}
		if err := g.verifyRevision(ctx, opts.BaseBranch); err != nil {
			return nil, err
		}
		args = []string{"diff", opts.BaseBranch + "...HEAD"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, opts.Mode)
	}

	nameStatus, err := g.run(ctx, withFlag(args, "--name-status"))
	if err != nil {
		return nil, err
	}
	files, err := parseNameStatus(nameStatus)
	if err != nil {
		return nil, err
	}

	numstat, err := g.run(ctx, withFlag(args, "--numstat"))
	if err != nil {
		return nil, err
	}
	applyNumstat(files, numstat)
	return files, nil
}

// MergeBase returns the merge base of HEAD and branch.
func (g *GitClient) MergeBase(ctx context.Context, branch string) (string, error) {
	out, err := g.run(ctx, []string{"merge-base", branch, "HEAD"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ShowFile returns the contents of path at rev.
func (g *GitClient) ShowFile(ctx context.Context, rev, path string) ([]byte, error) {
	out, err := g.run(ctx, []string{"show", rev + ":" + path})
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (g *GitClient) verifyRevision(ctx context.Context, rev string) error {
	if _, err := g.run(ctx, []string{"rev-parse", "--verify", rev}); err != nil {
		return fmt.Errorf("revision %q not found: %w", rev, err)
	}
	return nil
}

func (g *GitClient) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// withFlag inserts flag after the git subcommand.
func withFlag(args []string, flag string) []string {
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], flag)
	return append(out, args[1:]...)
}

// parseNameStatus parses `--name-status` output.
//
//	M\tmodels/orders.sql
//	R087\tmodels/old.sql\tmodels/new.sql
func parseNameStatus(output string) ([]File, error) {
	var result []File

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}

		status := parts[0]
		f := File{Path: filepath.ToSlash(parts[1])}

		switch {
		case strings.HasPrefix(status, "A"):
			f.Status = StatusAdded
		case strings.HasPrefix(status, "D"):
			f.Status = StatusDeleted
		case strings.HasPrefix(status, "R"), strings.HasPrefix(status, "C"):
			f.Status = StatusRenamed
			if status[0] == 'C' {
				f.Status = StatusCopied
			}
			if len(parts) >= 3 {
				f.OldPath = filepath.ToSlash(parts[1])
				f.Path = filepath.ToSlash(parts[2])
			}
		default:
			f.Status = StatusModified
		}

		result = append(result, f)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parsing git output: %w", err)
	}
	return result, nil
}

// applyNumstat fills line counts from `--numstat` output.
//
//	12\t3\tmodels/orders.sql
//	-\t-\tseeds/logo.png
//	4\t0\tmodels/{old.sql => new.sql}
func applyNumstat(files []File, output string) {
	byPath := make(map[string]*File, len(files))
	for i := range files {
		byPath[files[i].Path] = &files[i]
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		f, ok := byPath[filepath.ToSlash(renameTarget(parts[2]))]
		if !ok {
			continue
		}
		f.Additions, _ = strconv.Atoi(parts[0])
		f.Deletions, _ = strconv.Atoi(parts[1])
	}
}

// renameTarget resolves numstat rename notation to the new path.
func renameTarget(p string) string {
	open := strings.Index(p, "{")
	arrow := strings.Index(p, " => ")
	if arrow < 0 {
		return p
	}
	if open < 0 || open > arrow {
		return p[arrow+len(" => "):]
	}
	end := strings.Index(p, "}")
	if end < arrow {
		return p
	}
	prefix := p[:open]
	suffix := p[end+1:]
	target := p[arrow+len(" => ") : end]
	return strings.ReplaceAll(prefix+target+suffix, "//", "/")
}

// FromList builds Modified entries from explicit paths, skipping blanks.
func FromList(paths []string) []File {
	out := make([]File, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, File{Path: filepath.ToSlash(p), Status: StatusModified})
	}
	return out
}
