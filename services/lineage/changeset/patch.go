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
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// FromPatch parses a unified diff (as produced by `git diff` or a pull
// request's .diff endpoint) into changed files with line counts.
func FromPatch(r io.Reader) ([]File, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(r).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}

	files := make([]File, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		f := fileFromDiff(fd)
		if f.Path == "" {
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// FromPatchBytes is FromPatch over an in-memory patch.
func FromPatchBytes(patch []byte) ([]File, error) {
	return FromPatch(bytes.NewReader(patch))
}

func fileFromDiff(fd *diff.FileDiff) File {
	orig := stripPrefix(fd.OrigName)
	next := stripPrefix(fd.NewName)

	f := File{Path: next, Status: StatusModified}
	switch {
	case fd.OrigName == devNull:
		f.Status = StatusAdded
	case fd.NewName == devNull:
		f.Status = StatusDeleted
		f.Path = orig
	case orig != next && orig != "":
		f.Status = StatusRenamed
		f.OldPath = orig
	}
	for _, ext := range fd.Extended {
		if strings.HasPrefix(ext, "copy from ") {
			f.Status = StatusCopied
		}
	}

	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				f.Additions++
			case strings.HasPrefix(line, "-"):
				f.Deletions++
			}
		}
	}
	return f
}

// stripPrefix removes the a/ and b/ prefixes git puts on diff paths.
func stripPrefix(name string) string {
	if name == devNull {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
