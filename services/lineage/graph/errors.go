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

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph construction and queries.
var (
	// Build errors
	ErrDuplicateID = errors.New("duplicate node id")
	ErrEmptyID     = errors.New("node id must not be empty")

	// Query errors
	ErrNodeNotFound = errors.New("node not found")
)

// NodeNotFoundError reports a query against an id absent from the Store.
type NodeNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

// Unwrap returns the sentinel error.
func (e *NodeNotFoundError) Unwrap() error {
	return ErrNodeNotFound
}

// DuplicateIDError reports two input nodes sharing the same id.
type DuplicateIDError struct {
	ID string
}

// Error implements the error interface.
func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate node id %q", e.ID)
}

// Unwrap returns the sentinel error.
func (e *DuplicateIDError) Unwrap() error {
	return ErrDuplicateID
}
