// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testbed runs the test suite of an app on an Android device.
//
// A run has two concurrent tasks. One runs the Gradle test task, which
// installs and starts the app, possibly on an emulator it creates. The
// other finds the device and the app process and follows its log, since
// that is the only place the app's output appears.
package testbed

import (
	"context"
	"io"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/adb"
	"go.chromium.org/testbed/internal/config"
	"go.chromium.org/testbed/internal/device"
	"go.chromium.org/testbed/internal/gradle"
	"go.chromium.org/testbed/internal/logcat"
	"go.chromium.org/testbed/internal/logging"
	"go.chromium.org/testbed/internal/timing"
)

// ErrRunFinished is the cancellation cause used to stop the log monitor
// once the test task has succeeded.
var ErrRunFinished = errors.New("test run finished")

// Orchestrator runs one test run.
type Orchestrator struct {
	// Connected is the serial of a pre-connected device. Exactly one of
	// Connected and Runner.Managed is set.
	Connected string
	AppID     string
	Client    adb.Client

	// Monitor and Runner are templates; each run uses copies that share
	// its OutputSignal.
	Monitor logcat.Monitor
	Runner  gradle.Runner

	StartupTimeout time.Duration
	DeviceInterval time.Duration
	PidInterval    time.Duration
	Clock          clock.Clock
}

// New returns an Orchestrator for cfg. Device queries go through client,
// and logcat is started with commands built by cmds.
func New(cfg *config.Config, client adb.Client, cmds logcat.CommandFactory, stdout, stderr io.Writer) *Orchestrator {
	return &Orchestrator{
		Connected: cfg.Connected(),
		AppID:     cfg.AppID(),
		Client:    client,
		Monitor: logcat.Monitor{
			Commands:     cmds,
			Stdout:       stdout,
			Stderr:       stderr,
			Verbose:      cfg.Verbose(),
			StdoutPrefix: cfg.StdoutPrefix(),
			StderrPrefix: cfg.StderrPrefix(),
			Noise:        cfg.NoisePatterns(),
			Guard:        cfg.GuardOptions(),
		},
		Runner: gradle.Runner{
			Gradlew:   cfg.GradlePath(),
			Dir:       cfg.TestbedDir(),
			Managed:   cfg.Managed(),
			Connected: cfg.Connected(),
			AppID:     cfg.AppID(),
			Args:      cfg.Args(),
			Verbose:   cfg.Verbose(),
			Stdout:    stdout,
			Guard:     cfg.GuardOptions(),
		},
		StartupTimeout: cfg.StartupTimeout(),
		DeviceInterval: cfg.DevicePollInterval(),
		PidInterval:    cfg.PidPollInterval(),
	}
}

// Run runs the test task and the log monitor until the test task exits.
//
// Success and a failing test task are reported through the Outcome, as is
// cancellation of ctx. Any other failure, such as an ambiguous device or
// logcat failing to start, is returned as an error. Every subprocess has
// been stopped when Run returns.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	sig := &OutputSignal{}

	initial, err := o.prepare(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Result: Cancelled}, nil
		}
		return Outcome{}, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var monErr, runErr error
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		monErr = o.monitor(gctx, initial, sig)
		return monErr
	})
	g.Go(func() error {
		runErr = o.runTool(gctx, sig)
		if runErr == nil {
			cancel(ErrRunFinished)
		}
		return runErr
	})
	first := g.Wait()

	if errors.Is(context.Cause(runCtx), ErrRunFinished) {
		logging.Debug(ctx, "Test task succeeded")
		return Outcome{Result: Success}, nil
	}
	var tf *gradle.ToolFailure
	if errors.As(runErr, &tf) {
		return Outcome{Result: ToolFailed, Failure: tf}, nil
	}
	if ctx.Err() != nil {
		logging.Infof(ctx, "Run interrupted: %v", context.Cause(ctx))
		return Outcome{Result: Cancelled}, nil
	}
	// The task that failed first caused the other to be canceled.
	for _, err := range []error{first, monErr, runErr} {
		if err != nil && !errors.Is(err, context.Canceled) {
			return Outcome{}, err
		}
	}
	return Outcome{}, first
}

// prepare stops a stale app on a pre-connected device, or records the
// devices that exist before Gradle creates a managed one.
func (o *Orchestrator) prepare(ctx context.Context) (device.Snapshot, error) {
	ctx, st := timing.Start(ctx, "init")
	defer st.End()

	if o.Connected != "" {
		// Logs from a previous unclean shutdown would be mistaken for ours.
		if err := o.Client.ForceStop(ctx, o.Connected, o.AppID); err != nil {
			return nil, errors.Wrapf(err, "failed to stop %s", o.AppID)
		}
		return nil, nil
	}
	return device.TakeSnapshot(ctx, o.Client)
}

func (o *Orchestrator) monitor(ctx context.Context, initial device.Snapshot, sig *OutputSignal) error {
	budget := device.NewBudget(o.Clock, o.startupTimeout())

	dctx, st := timing.Start(ctx, "device-wait")
	serial, err := (&device.Locator{
		Connected: o.Connected,
		Lister:    o.Client,
		Initial:   initial,
		Interval:  o.DeviceInterval,
	}).Locate(dctx, budget)
	st.End()
	if err != nil {
		return err
	}

	pctx, st := timing.Start(ctx, "process-wait")
	pid, err := (&device.PidLocator{
		Finder:   o.Client,
		AppID:    o.AppID,
		Interval: o.PidInterval,
	}).Locate(pctx, serial, budget)
	st.End()
	if err != nil {
		return err
	}

	lctx, st := timing.Start(ctx, "logcat")
	defer st.End()
	m := o.Monitor
	m.Signal = sig
	return m.Run(lctx, serial, pid)
}

func (o *Orchestrator) runTool(ctx context.Context, sig *OutputSignal) error {
	ctx, st := timing.Start(ctx, "gradle")
	defer st.End()
	r := o.Runner
	r.Signal = sig
	r.Stopper = o.Client
	return r.Run(ctx)
}

func (o *Orchestrator) startupTimeout() time.Duration {
	if o.StartupTimeout > 0 {
		return o.StartupTimeout
	}
	return device.DefaultStartupTimeout
}
