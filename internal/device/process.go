// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"strconv"
	"time"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/guard"
	"go.chromium.org/testbed/internal/logging"
	"go.chromium.org/testbed/internal/poll"
)

// DefaultPidInterval is the polling interval for the app process. It is short
// because the process may be short-lived.
const DefaultPidInterval = 200 * time.Millisecond

// PidFinder looks up the pid of an app on a device.
type PidFinder interface {
	Pidof(ctx context.Context, serial, appID string) (string, error)
}

// PidLocator finds the process of the app under test.
type PidLocator struct {
	Finder PidFinder
	AppID  string
	// Interval overrides DefaultPidInterval if positive.
	Interval time.Duration
}

// Locate polls until the app is running on the device identified by serial
// and returns its pid.
//
// An empty or zero pid means the app has not started yet. A lookup command
// failing with output is logged once and otherwise treated the same way,
// since some devices report spurious errors before the app starts. Any other
// error is fatal.
func (l *PidLocator) Locate(ctx context.Context, serial string, budget *Budget) (string, error) {
	logging.Info(ctx, "Waiting for app to start - this may take several minutes")
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultPidInterval
	}

	var pid string
	shownError := false
	if err := budget.pollWithin(ctx, "app process", interval, func(ctx context.Context) error {
		out, err := l.Finder.Pidof(ctx, serial, l.AppID)
		if err != nil {
			var xerr *guard.ExitError
			if !errors.As(err, &xerr) {
				return poll.Break(errors.Wrapf(err, "failed to look up %s", l.AppID))
			}
			if (xerr.Stdout != "" || xerr.Stderr != "") && !shownError {
				logging.Info(ctx, xerr.Details())
				logging.Info(ctx, "This may be transient, so continuing to wait")
				shownError = true
			}
			return errNotYet
		}
		// Some devices exit successfully without reporting a real pid.
		if n, err := strconv.Atoi(out); err != nil || n <= 0 {
			return errNotYet
		}
		pid = out
		return nil
	}); err != nil {
		return "", err
	}

	logging.Info(ctx, "PID: ", pid)
	return pid, nil
}
