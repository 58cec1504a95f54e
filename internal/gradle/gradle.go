// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gradle runs the instrumented test task of the testbed app.
package gradle

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.chromium.org/testbed/ctxutil"
	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/guard"
	"go.chromium.org/testbed/internal/logging"
	"go.chromium.org/testbed/shutil"
)

// installPrefix starts lines about SDK package installation. They can take
// minutes, so they are shown even when not verbose.
const installPrefix = `Preparing "Install`

// exitWait is how long Run waits for the tool to exit after its output ends.
const exitWait = time.Second

// cleanupTimeout bounds the work done after the tool exits.
const cleanupTimeout = 30 * time.Second

// ToolFailure is returned when the test task exits with a nonzero status.
type ToolFailure struct {
	Args   []string
	Status int
	// Output holds the lines that were not shown on the console.
	Output string
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("command %q returned exit status %d", shutil.EscapeSlice(e.Args), e.Status)
}

// Observer reports whether the app's own output has been seen.
type Observer interface {
	Observed() bool
}

// Stopper force-stops the app on a device.
type Stopper interface {
	ForceStop(ctx context.Context, serial, appID string) error
}

// Runner runs the test task.
type Runner struct {
	// Gradlew is the path of the Gradle wrapper.
	Gradlew string
	// Dir is the testbed project directory.
	Dir string
	// Managed is the name of the Gradle managed device. If empty, the task
	// runs on the pre-connected device Connected.
	Managed   string
	Connected string
	AppID     string
	// Args is forwarded to the app as a single shell-quoted string.
	Args    []string
	Verbose int
	Stdout  io.Writer

	Signal  Observer
	Stopper Stopper
	Guard   *guard.Options
}

// TaskName returns the name of the Gradle task to run.
func (r *Runner) TaskName() string {
	prefix := r.Managed
	if prefix == "" {
		prefix = "connected"
	}
	return prefix + "DebugAndroidTest"
}

// Command builds the Gradle command line.
func (r *Runner) Command() *exec.Cmd {
	cmd := exec.Command(r.Gradlew, "--console", "plain", r.TaskName(),
		"-Pandroid.testInstrumentationRunnerArguments.pythonArgs="+shutil.EscapeSlice(r.Args))
	cmd.Dir = r.Dir
	cmd.Env = os.Environ()
	if r.Managed == "" {
		cmd.Env = append(cmd.Env, "ANDROID_SERIAL="+r.Connected)
	}
	return cmd
}

// Run runs the test task until it exits or ctx is done. It returns nil if
// the task succeeded and a *ToolFailure if it exited with a nonzero status.
//
// Whatever the result, output that was not shown is written to Stdout if
// the app's own output was never seen, and the app is stopped on a
// pre-connected device, since Gradle does not stop it when interrupted.
func (r *Runner) Run(ctx context.Context) (retErr error) {
	var hidden strings.Builder
	defer func() {
		if hidden.Len() > 0 && (r.Signal == nil || !r.Signal.Observed()) {
			io.WriteString(r.Stdout, hidden.String())
		}
		if r.Managed == "" && r.Stopper != nil {
			cctx, cancel := ctxutil.Cleanup(ctx, cleanupTimeout)
			defer cancel()
			if err := r.Stopper.ForceStop(cctx, r.Connected, r.AppID); err != nil {
				logging.Infof(ctx, "Failed to stop %s: %v", r.AppID, err)
			}
		}
	}()

	opts := guard.Options{}
	if r.Guard != nil {
		opts = *r.Guard
	}
	opts.CombinedOutput = true

	p, err := guard.Start(ctx, r.Command(), &opts)
	if err != nil {
		return err
	}
	defer p.Release(ctx)

	for {
		line, err := p.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to read Gradle output")
		}
		if r.Verbose > 0 || strings.HasPrefix(line, installPrefix) {
			if _, err := io.WriteString(r.Stdout, line); err != nil {
				return errors.Wrap(err, "failed to write Gradle output")
			}
		} else {
			hidden.WriteString(line)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, exitWait)
	defer cancel()
	status, err := p.Wait(wctx)
	if err != nil {
		return errors.Wrap(err, "Gradle did not exit after its output ended")
	}
	if status != 0 {
		return &ToolFailure{Args: p.Args(), Status: status, Output: hidden.String()}
	}
	return nil
}
