// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// RunResult is one entry of run_results.json.
type RunResult struct {
	UniqueID      string  `json:"unique_id"`
	Status        string  `json:"status"`
	ExecutionTime float64 `json:"execution_time"`
}

// RunResults is a decoded run_results.json.
type RunResults struct {
	Metadata Metadata    `json:"metadata"`
	Results  []RunResult `json:"results"`
}

// ParseRunResults decodes a run_results.json document.
func ParseRunResults(r io.Reader) (*RunResults, error) {
	var rr RunResults
	if err := json.NewDecoder(r).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%w: run results: %v", ErrInvalidManifest, err)
	}
	return &rr, nil
}

// ParseRunResultsBytes is ParseRunResults over an in-memory document.
func ParseRunResultsBytes(data []byte) (*RunResults, error) {
	return ParseRunResults(bytes.NewReader(data))
}

// ExecutionTimes maps unique id to execution time in seconds. Entries
// without an id are skipped; a repeated id keeps the last value.
func (rr *RunResults) ExecutionTimes() map[string]float64 {
	if rr == nil {
		return nil
	}
	out := make(map[string]float64, len(rr.Results))
	for _, r := range rr.Results {
		if r.UniqueID == "" {
			continue
		}
		out[r.UniqueID] = r.ExecutionTime
	}
	return out
}
