// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package poll repeatedly checks a condition against an eventually-consistent
// external observation, such as a device list, until it holds or a time
// budget runs out.
package poll

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/testbed/ctxutil"
	"go.chromium.org/testbed/errors"
)

const defaultInterval = 100 * time.Millisecond

// Options controls Poll.
type Options struct {
	// Timeout specifies the maximum time to poll.
	// Non-positive values indicate no timeout (context deadlines are still honored).
	Timeout time.Duration
	// Interval specifies how long to sleep between attempts.
	// Non-positive values indicate that a reasonable default should be used.
	Interval time.Duration
	// Clock is the time source. nil means the real clock.
	Clock clock.Clock
}

// TimeoutError is returned by Poll when the condition did not hold within
// Options.Timeout.
type TimeoutError struct {
	Timeout time.Duration
	// Last is the error returned by the last attempt.
	Last error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v; last error: %v", e.Timeout, e.Last)
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// breakError wraps an error to terminate Poll immediately.
type breakError struct {
	err error
}

func (b *breakError) Error() string { return b.err.Error() }

// Break wraps err so that returning it from a Poll callback stops polling at
// once. Poll then returns err itself, unwrapped.
func Break(err error) error {
	return &breakError{err}
}

// Poll calls f until it returns nil, sleeping opts.Interval between attempts.
//
// Polling stops early if f returns an error made by Break, or if ctx is
// canceled, in which case ctx.Err() is returned. If opts.Timeout passes
// first, a *TimeoutError carrying f's last error is returned.
func Poll(ctx context.Context, f func(context.Context) error, opts *Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clk := clock.NewClock()
	timeout := ctxutil.MaxTimeout
	interval := defaultInterval
	if opts != nil {
		if opts.Clock != nil {
			clk = opts.Clock
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Interval > 0 {
			interval = opts.Interval
		}
	}

	start := clk.Now()
	for {
		err := f(ctx)
		if err == nil {
			return nil
		}
		var b *breakError
		if errors.As(err, &b) {
			return b.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		elapsed := clk.Since(start)
		if elapsed >= timeout {
			return &TimeoutError{Timeout: timeout, Last: err}
		}
		wait := interval
		if rem := timeout - elapsed; rem < wait {
			wait = rem
		}

		tm := clk.NewTimer(wait)
		select {
		case <-tm.C():
		case <-ctx.Done():
			tm.Stop()
			return ctx.Err()
		}
	}
}
