// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for orchestration.
var (
	// ErrTimeout is returned when a routine attempt exceeds its deadline.
	ErrTimeout = errors.New("routine timed out")

	// ErrRoutineFailure is returned when a routine fails after all attempts.
	ErrRoutineFailure = errors.New("routine failed")

	// ErrOrchestratorFailure is returned when a run cannot produce a report.
	ErrOrchestratorFailure = errors.New("orchestrator failed")

	// ErrNoReport is returned when a routine returns neither a report nor an error.
	ErrNoReport = errors.New("routine returned no report")

	// ErrNoRoutines is returned by New when no routines are given.
	ErrNoRoutines = errors.New("no routines configured")

	// ErrDuplicateRoutine is returned by New when two routines share a name.
	ErrDuplicateRoutine = errors.New("duplicate routine name")
)

// TimeoutError records which routine exceeded its deadline.
type TimeoutError struct {
	Routine string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("routine %s timed out after %s", e.Routine, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// RoutineError is the failure of a routine after its final attempt.
// Err is the last observed error, not the first.
type RoutineError struct {
	Routine string
	Attempt int
	Err     error
}

func (e *RoutineError) Error() string {
	return fmt.Sprintf("routine %s failed after %d attempt(s): %v", e.Routine, e.Attempt, e.Err)
}

func (e *RoutineError) Unwrap() []error {
	return []error{ErrRoutineFailure, e.Err}
}

// RunError is the failure of an orchestrator run. It names the stage that
// failed and carries the last underlying error.
type RunError struct {
	Stage    State
	Routine  string
	Attempts int
	Err      error
}

func (e *RunError) Error() string {
	if e.Routine == "" {
		return fmt.Sprintf("orchestrator failed during %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("orchestrator failed during %s: routine %s after %d attempt(s): %v",
		e.Stage, e.Routine, e.Attempts, e.Err)
}

func (e *RunError) Unwrap() []error {
	return []error{ErrOrchestratorFailure, e.Err}
}
