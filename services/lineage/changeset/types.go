// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changeset collects the files touched by a proposed change and
// maps them onto lineage graph node ids.
//
// Changes come from git (working tree, index, a commit, or a branch
// against its base), from a unified diff patch, or from an explicit list.
package changeset

import (
	"errors"
	"path"
	"strings"
)

// Status is the kind of change applied to a file.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
	StatusRenamed  Status = "renamed"
	StatusCopied   Status = "copied"
)

// File is one changed file.
type File struct {
	// Path is the project-relative path after the change, slash separated.
	Path string `json:"path"`

	// Status is the change kind.
	Status Status `json:"status"`

	// OldPath is the previous path for renames and copies.
	OldPath string `json:"old_path,omitempty"`

	// Additions and Deletions are line counts when known.
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// IsModel reports whether the file is a SQL model under models/.
func (f File) IsModel() bool {
	p := f.Path
	if f.Status == StatusDeleted && f.OldPath != "" {
		p = f.OldPath
	}
	return strings.HasSuffix(p, ".sql") && strings.Contains("/"+p, "/models/")
}

// Stem returns the file name without directory or extension.
func (f File) Stem() string {
	base := path.Base(f.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Mode selects where changed files come from.
type Mode string

const (
	ModeFiles  Mode = "files"
	ModeDiff   Mode = "diff"
	ModeStaged Mode = "staged"
	ModeCommit Mode = "commit"
	ModeBranch Mode = "branch"
)

// Options configures change collection.
type Options struct {
	Mode Mode

	// Files is the explicit list for ModeFiles.
	Files []string

	// Commit is the revision for ModeCommit.
	Commit string

	// BaseBranch is the base for ModeBranch, diffed as base...HEAD.
	BaseBranch string
}

var (
	// ErrUnknownMode is returned for an unrecognised Mode.
	ErrUnknownMode = errors.New("unknown change mode")

	// ErrMissingRevision is returned when ModeCommit or ModeBranch lacks
	// its revision.
	ErrMissingRevision = errors.New("revision required for change mode")
)

// Paths returns the Path of every file.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
