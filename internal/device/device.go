// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package device finds the device a test run uses and the process of the app
// under test on it.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/logging"
	"go.chromium.org/testbed/internal/poll"
)

const (
	// DefaultStartupTimeout bounds device and process discovery together.
	// Build tools may download emulator images and libraries first.
	DefaultStartupTimeout = 600 * time.Second

	// DefaultDeviceInterval is the polling interval for new devices.
	DefaultDeviceInterval = time.Second
)

// Lister lists the serials of connected devices.
type Lister interface {
	Devices(ctx context.Context) ([]string, error)
}

// AmbiguityError is returned when more than one new device appears and it is
// impossible to tell which one the run is using.
type AmbiguityError struct {
	// Serials holds the new serials in sorted order.
	Serials []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("found more than one new device: %s", strings.Join(e.Serials, ", "))
}

// TimeoutError is returned when the startup budget runs out during a wait.
type TimeoutError struct {
	// Wait names what was being waited for.
	Wait    string
	Timeout time.Duration
	// Last is the last transient condition observed, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out waiting for %s (startup timeout %v)", e.Wait, e.Timeout)
	if e.Last != nil {
		msg += "; last error: " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// Budget is a time budget shared by consecutive waits.
type Budget struct {
	clk      clock.Clock
	total    time.Duration
	deadline time.Time
}

// NewBudget starts a budget of total duration measured by clk. A nil clk
// means the real clock.
func NewBudget(clk clock.Clock, total time.Duration) *Budget {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Budget{clk: clk, total: total, deadline: clk.Now().Add(total)}
}

// Remaining returns the unused part of the budget.
func (b *Budget) Remaining() time.Duration {
	if d := b.deadline.Sub(b.clk.Now()); d > 0 {
		return d
	}
	return 0
}

// pollWithin runs poll.Poll bounded by the remaining budget and converts a
// poll timeout to a *TimeoutError naming wait. The remaining budget is also
// set as a deadline on the context passed to f, so a lookup that hangs is
// cut off too.
func (b *Budget) pollWithin(ctx context.Context, wait string, interval time.Duration, f func(context.Context) error) error {
	rem := b.Remaining()
	if rem <= 0 {
		return &TimeoutError{Wait: wait, Timeout: b.total}
	}

	pctx, cancel := context.WithTimeout(ctx, rem)
	defer cancel()

	err := poll.Poll(pctx, f, &poll.Options{Timeout: rem, Interval: interval, Clock: b.clk})
	if err == nil {
		return nil
	}
	var te *poll.TimeoutError
	if errors.As(err, &te) {
		last := te.Last
		if last == errNotYet {
			last = nil
		}
		return &TimeoutError{Wait: wait, Timeout: b.total, Last: last}
	}
	if ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Wait: wait, Timeout: b.total}
	}
	return err
}

// errNotYet is returned by poll callbacks for the normal "not there yet" case.
var errNotYet = errors.New("not found yet")

// Snapshot is the set of device serials visible before a run starts.
type Snapshot map[string]struct{}

// TakeSnapshot lists the current devices.
func TakeSnapshot(ctx context.Context, l Lister) (Snapshot, error) {
	serials, err := l.Devices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	s := make(Snapshot, len(serials))
	for _, serial := range serials {
		s[serial] = struct{}{}
	}
	return s, nil
}

// Locator finds the device used by a run.
type Locator struct {
	// Connected is the serial of a pre-connected device. If empty, the
	// device is managed by the build tool and is discovered by diffing the
	// device list against Initial.
	Connected string
	Lister    Lister
	Initial   Snapshot
	// Interval overrides DefaultDeviceInterval if positive.
	Interval time.Duration
}

// Locate returns the serial of the device. For a managed device it polls
// until exactly one device not in Initial appears. If several appear at
// once, it fails immediately with *AmbiguityError. Errors listing devices
// are fatal too.
func (l *Locator) Locate(ctx context.Context, budget *Budget) (string, error) {
	if l.Connected != "" {
		return l.Connected, nil
	}

	logging.Info(ctx, "Waiting for managed device - this may take several minutes")
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultDeviceInterval
	}

	var serial string
	if err := budget.pollWithin(ctx, "managed device", interval, func(ctx context.Context) error {
		serials, err := l.Lister.Devices(ctx)
		if err != nil {
			return poll.Break(errors.Wrap(err, "failed to list devices"))
		}
		fresh := make(map[string]struct{})
		for _, s := range serials {
			if _, ok := l.Initial[s]; !ok {
				fresh[s] = struct{}{}
			}
		}
		switch len(fresh) {
		case 0:
			return errNotYet
		case 1:
			serial = maps.Keys(fresh)[0]
			return nil
		default:
			sorted := maps.Keys(fresh)
			slices.Sort(sorted)
			return poll.Break(&AmbiguityError{Serials: sorted})
		}
	}); err != nil {
		return "", err
	}

	logging.Info(ctx, "Serial: ", serial)
	return serial, nil
}
