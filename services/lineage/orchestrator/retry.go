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
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy is the timeout, retry and backoff applied to one routine.
type Policy struct {
	// Timeout bounds each attempt. Zero disables the deadline.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts. Values below 1 mean 1.
	MaxAttempts int

	// FailFast stops after the first failed attempt.
	FailFast bool

	// Backoff is the linear unit: attempt n is followed by n*Backoff.
	Backoff time.Duration

	// OnFailure, if set, is called after every failed attempt.
	OnFailure func(attempt int, err error)

	// wait replaces the backoff sleep in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// WithRetry runs fn under p.
//
// Description:
//
//	Each attempt gets its own deadline of p.Timeout. An attempt that
//	overruns is abandoned: fn keeps running in its goroutine with a
//	cancelled context and whatever it returns later is discarded. Between
//	attempts WithRetry waits attempt*p.Backoff, returning early if ctx is
//	cancelled. Cancellation of ctx stops further attempts.
//
// Outputs:
//
//	T - The result of the first successful attempt.
//	error - *RoutineError carrying the attempt count and the last error.
//	        A deadline overrun surfaces as *TimeoutError (ErrTimeout).
func WithRetry[T any](ctx context.Context, p Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.wait
	if wait == nil {
		wait = sleep
	}

	var last error
	attempt := 1
	for ; ; attempt++ {
		v, err := runAttempt(ctx, p.Timeout, name, fn)
		if err == nil {
			return v, nil
		}
		last = err
		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}

		if p.FailFast || attempt == attempts || ctx.Err() != nil {
			break
		}
		if err := wait(ctx, time.Duration(attempt)*p.Backoff); err != nil {
			break
		}
	}
	return zero, &RoutineError{Routine: name, Attempt: attempt, Err: last}
}

type attemptResult[T any] struct {
	value T
	err   error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// Buffered so an abandoned attempt can still complete its send.
	done := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult[T]{err: fmt.Errorf("routine %s panicked: %v", name, r)}
			}
		}()
		v, err := fn(actx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &TimeoutError{Routine: name, After: timeout}
		}
		return res.value, res.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &TimeoutError{Routine: name, After: timeout}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
