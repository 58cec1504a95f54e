// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testbed

import (
	"sync/atomic"

	"go.chromium.org/testbed/internal/gradle"
)

// Result is the kind of an Outcome.
type Result int

const (
	// Success means the test task exited with status 0.
	Success Result = iota
	// ToolFailed means the test task exited with a nonzero status.
	ToolFailed
	// Cancelled means the run was interrupted from outside.
	Cancelled
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case ToolFailed:
		return "tool failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one run.
type Outcome struct {
	Result Result
	// Failure is set if Result is ToolFailed.
	Failure *gradle.ToolFailure
}

// ExitCode returns the exit status the CLI should use for o.
func (o Outcome) ExitCode() int {
	switch o.Result {
	case Success:
		return 0
	case ToolFailed:
		if o.Failure != nil && o.Failure.Status > 0 {
			return o.Failure.Status
		}
	}
	return 1
}

// OutputSignal records whether the app's own output has been seen. It is
// set once by the log monitor and read by the test task's cleanup.
type OutputSignal struct {
	observed atomic.Bool
}

// Mark sets the signal.
func (s *OutputSignal) Mark() { s.observed.Store(true) }

// Observed reports whether Mark has been called.
func (s *OutputSignal) Observed() bool { return s.observed.Load() }
