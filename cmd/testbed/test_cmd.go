// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/adb"
	"go.chromium.org/testbed/internal/command"
	"go.chromium.org/testbed/internal/config"
	"go.chromium.org/testbed/internal/guard"
	"go.chromium.org/testbed/internal/logging"
	"go.chromium.org/testbed/internal/testbed"
	"go.chromium.org/testbed/internal/timing"
)

const (
	fullLogName   = "full.txt"    // file in ResDir containing full output
	timingLogName = "timing.json" // file in ResDir containing timing information
)

// runWrapper runs the orchestrator. Tests replace it to avoid running
// real subprocesses.
type runWrapper interface {
	run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (testbed.Outcome, error)
}

type realRunWrapper struct{}

func (realRunWrapper) run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (testbed.Outcome, error) {
	bridge := adb.NewBridge(cfg.AdbPath(), cfg.GuardOptions())
	var client adb.Client = bridge
	if cfg.AdbServer() != "" {
		sc, err := adb.NewServerClient(cfg.AdbServer())
		if err != nil {
			return testbed.Outcome{}, err
		}
		client = sc
	}
	return testbed.New(cfg, client, bridge, stdout, stderr).Run(ctx)
}

// testCmd implements subcommands.Command to run the test suite.
type testCmd struct {
	cfg     *config.MutableConfig
	wrapper runWrapper
	stdout  io.Writer
	stderr  io.Writer
	getenv  func(string) string
}

var _ = subcommands.Command(&testCmd{})

func newTestCmd(stdout, stderr io.Writer, getenv func(string) string) *testCmd {
	return &testCmd{
		cfg:     config.NewMutableConfig(),
		wrapper: realRunWrapper{},
		stdout:  stdout,
		stderr:  stderr,
		getenv:  getenv,
	}
}

func (*testCmd) Name() string     { return "test" }
func (*testCmd) Synopsis() string { return "run the test suite on a device" }
func (*testCmd) Usage() string {
	return `Usage: test [flag]... (-connected <serial> | -managed <name>) [--] [arg]...

Description:
    Runs the testbed app's instrumented test on an Android device and shows
    the app's output. Args are passed to the app.

    With -connected, the device must already be running. With -managed,
    Gradle creates an emulator, for example "maxVersion" or "minVersion".

    Exits with the status of Gradle if the test task fails, and with 1 on
    any other error.

Flag:
`
}

func (c *testCmd) SetFlags(f *flag.FlagSet) {
	c.cfg.SetFlags(f)
}

func (c *testCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	c.cfg.Args = f.Args()

	if c.cfg.ConfigFile != "" {
		set := make(map[string]bool)
		f.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
		if err := c.cfg.LoadFile(c.cfg.ConfigFile, func(name string) bool { return set[name] }); err != nil {
			logging.Info(ctx, err)
			return subcommands.ExitUsageError
		}
	}
	if err := c.cfg.DeriveDefaults(c.getenv); err != nil {
		logging.Info(ctx, "Failed to derive defaults: ", err)
		return subcommands.ExitUsageError
	}
	if err := c.cfg.Validate(); err != nil {
		logging.Info(ctx, err, "\n\n", c.Usage())
		return subcommands.ExitUsageError
	}
	if c.cfg.Verbose > 0 {
		ctx = logging.AttachLoggerNoPropagation(ctx, logging.NewSinkLogger(logging.LevelDebug, false, c.stdout))
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.cfg.Timeout,
			errors.Errorf("%v: global timeout reached (%v)", context.DeadlineExceeded, c.cfg.Timeout))
		defer cancel()
	}

	tl := timing.NewLog(nil)
	ctx = timing.NewContext(ctx, tl)
	ctx, st := timing.Start(ctx, "exec")

	if dir := c.cfg.ResDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Info(ctx, err)
			return subcommands.ExitFailure
		}

		// Write the timing log after the command finishes.
		defer func() {
			st.End()
			f, err := os.Create(filepath.Join(dir, timingLogName))
			if err != nil {
				logging.Info(ctx, err)
				return
			}
			defer f.Close()
			if err := tl.WritePretty(f); err != nil {
				logging.Info(ctx, err)
			}
		}()

		// Log the full output of the command to disk.
		fullLog, err := os.Create(filepath.Join(dir, fullLogName))
		if err != nil {
			logging.Info(ctx, err)
			return subcommands.ExitFailure
		}
		defer fullLog.Close()
		ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, true, fullLog))
	}

	logging.Debug(ctx, "Command line: ", strings.Join(os.Args, " "))
	cfg := c.cfg.Freeze()

	out, err := c.wrapper.run(ctx, cfg, c.stdout, c.stderr)
	if err != nil {
		if !command.ReportExitError(c.stdout, err) {
			logging.Infof(ctx, "Test run failed: %v", err)
		}
		logging.Debugf(ctx, "%+v", err)
		return subcommands.ExitStatus(1)
	}
	switch out.Result {
	case testbed.ToolFailed:
		// Gradle's output has already been shown if it is useful.
		command.ReportExitError(c.stdout, &guard.ExitError{Args: out.Failure.Args, Status: out.Failure.Status})
	case testbed.Cancelled:
		logging.Info(ctx, "Test run was interrupted")
	}
	return subcommands.ExitStatus(out.ExitCode())
}
