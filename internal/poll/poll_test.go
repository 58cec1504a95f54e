// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package poll

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"go.chromium.org/testbed/errors"
)

func TestPoll(t *testing.T) {
	const expCalls = 5
	calls := 0
	err := Poll(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < expCalls {
			return errors.New("intentional error")
		}
		return nil
	}, &Options{Interval: time.Millisecond})

	if err != nil {
		t.Error("Poll returned error: ", err)
	}
	if calls != expCalls {
		t.Errorf("Poll called function %d time(s); want %d", calls, expCalls)
	}
}

func TestPollBreak(t *testing.T) {
	calls := 0
	want := errors.New("fatal")
	err := Poll(context.Background(), func(ctx context.Context) error {
		calls++
		return Break(want)
	}, &Options{Interval: time.Millisecond})

	if err != want {
		t.Errorf("Poll returned %v; want %v", err, want)
	}
	if calls != 1 {
		t.Errorf("Poll called function %d time(s); want 1", calls)
	}
}

func TestPollCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Poll(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("not yet")
	}, &Options{Interval: time.Hour})

	if err != context.Canceled {
		t.Errorf("Poll returned %v; want %v", err, context.Canceled)
	}
	if calls != 1 {
		t.Errorf("Poll called function %d time(s); want 1", calls)
	}
}

func TestPollTimeout(t *testing.T) {
	const (
		timeout  = 600 * time.Second
		interval = time.Second
	)
	fclk := fakeclock.NewFakeClock(time.Unix(0, 0))

	last := errors.New("no device")
	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- Poll(context.Background(), func(ctx context.Context) error {
			calls++
			return last
		}, &Options{Timeout: timeout, Interval: interval, Clock: fclk})
	}()

	for i := 0; i < int(timeout/interval); i++ {
		fclk.WaitForWatcherAndIncrement(interval)
	}

	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Poll did not return after the fake clock passed the timeout")
	}

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Poll returned %v; want *TimeoutError", err)
	}
	if te.Timeout != timeout {
		t.Errorf("TimeoutError.Timeout = %v; want %v", te.Timeout, timeout)
	}
	if te.Last != last {
		t.Errorf("TimeoutError.Last = %v; want %v", te.Last, last)
	}
	if want := int(timeout/interval) + 1; calls != want {
		t.Errorf("Poll called function %d time(s); want %d", calls, want)
	}
}
