// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testbed

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/slices"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/device"
	"go.chromium.org/testbed/internal/gradle"
	"go.chromium.org/testbed/internal/guard"
	"go.chromium.org/testbed/internal/logcat"
	"go.chromium.org/testbed/internal/timing"
	"go.chromium.org/testbed/testutil"
)

// fakeClient is an adb.Client whose device list changes after the first
// query.
type fakeClient struct {
	mu      sync.Mutex
	before  []string
	after   []string
	pid     string
	listed  int
	stopped []string
}

func (c *fakeClient) Devices(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listed++
	if c.listed == 1 {
		return c.before, nil
	}
	return c.after, nil
}

func (c *fakeClient) Pidof(ctx context.Context, serial, appID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid, nil
}

func (c *fakeClient) ForceStop(ctx context.Context, serial, appID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, serial)
	return nil
}

func (c *fakeClient) stops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stopped...)
}

// scriptLogcat runs a shell script in place of logcat.
type scriptLogcat string

func (s scriptLogcat) LogcatCommand(serial, pid string) *exec.Cmd {
	return exec.Command("sh", "-c", string(s), "logcat", serial, pid)
}

type env struct {
	client *fakeClient
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	o      *Orchestrator
}

// newEnv returns an Orchestrator whose Gradle wrapper runs gradlew and
// whose logcat runs logcatScript. Both scripts run in a temporary directory
// also available as $DIR.
func newEnv(t *testing.T, client *fakeClient, gradlew, logcatScript string) *env {
	dir := testutil.TempDir(t)
	path := testutil.WriteExecutable(t, dir, "gradlew", "DIR="+dir+"\n"+gradlew)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	opts := &guard.Options{TerminateGrace: time.Second, KillGrace: time.Second}
	return &env{
		client: client,
		stdout: stdout,
		stderr: stderr,
		o: &Orchestrator{
			AppID:  "org.python.testbed",
			Client: client,
			Monitor: logcat.Monitor{
				Commands:     scriptLogcat("DIR=" + dir + "\n" + logcatScript),
				Stdout:       stdout,
				Stderr:       stderr,
				StdoutPrefix: logcat.DefaultStdoutPrefix,
				StderrPrefix: logcat.DefaultStderrPrefix,
				Noise:        logcat.DefaultNoise,
				Guard:        opts,
			},
			Runner: gradle.Runner{
				Gradlew: path,
				Dir:     dir,
				AppID:   "org.python.testbed",
				Stdout:  stdout,
				Guard:   opts,
			},
			StartupTimeout: time.Minute,
			DeviceInterval: 10 * time.Millisecond,
			PidInterval:    10 * time.Millisecond,
		},
	}
}

func (e *env) managed(name string) *env {
	e.o.Runner.Managed = name
	return e
}

func (e *env) connected(serial string) *env {
	e.o.Connected = serial
	e.o.Runner.Connected = serial
	return e
}

// run runs the orchestrator and fails the test if it does not return
// promptly.
func (e *env) run(t *testing.T, ctx context.Context) (Outcome, error) {
	t.Helper()
	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.o.Run(ctx)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return")
		return Outcome{}, nil
	}
}

func TestRunSuccessCancelsMonitor(t *testing.T) {
	client := &fakeClient{before: []string{"emulator-5554"}, after: []string{"emulator-5554", "emulator-5556"}, pid: "1234"}
	// Gradle finishes once the app has printed something; logcat would
	// otherwise follow the log forever.
	e := newEnv(t, client,
		`while [ ! -f "$DIR/started" ]; do sleep 0.05; done; echo 'BUILD SUCCESSFUL'`,
		`printf '%s\n' 'I/python.stdout: hello'; touch "$DIR/started"; exec sleep 60`,
	).managed("maxVersion")

	l := timing.NewLog(nil)
	ctx := timing.NewContext(context.Background(), l)
	out, err := e.run(t, ctx)
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	if out.Result != Success || out.ExitCode() != 0 {
		t.Errorf("Run returned %v with exit code %d; want success with 0", out.Result, out.ExitCode())
	}
	if !strings.Contains(e.stdout.String(), "hello\n") {
		t.Errorf("Output %q does not contain the app's output", e.stdout.String())
	}
	if got := client.stops(); len(got) != 0 {
		t.Errorf("ForceStop called for %v; want no calls for a managed device", got)
	}

	var names []string
	for _, s := range l.Root.Children {
		names = append(names, s.Name)
	}
	// The two tasks run concurrently, so their stages may interleave.
	slices.Sort(names)
	if diff := cmp.Diff([]string{"device-wait", "gradle", "init", "logcat", "process-wait"}, names); diff != "" {
		t.Errorf("Timing stages mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAmbiguousDevices(t *testing.T) {
	client := &fakeClient{after: []string{"emulator-5556", "emulator-5554"}}
	e := newEnv(t, client, "exec sleep 60", "exec sleep 60").managed("maxVersion")

	_, err := e.run(t, context.Background())
	var ae *device.AmbiguityError
	if !errors.As(err, &ae) {
		t.Fatalf("Run returned %v; want *device.AmbiguityError", err)
	}
	if diff := cmp.Diff([]string{"emulator-5554", "emulator-5556"}, ae.Serials); diff != "" {
		t.Errorf("AmbiguityError.Serials mismatch (-want +got):\n%s", diff)
	}
	if client.listed != 2 {
		t.Errorf("Devices called %d time(s); want 2", client.listed)
	}
}

func TestRunToolFailure(t *testing.T) {
	// The app never starts.
	client := &fakeClient{pid: ""}
	e := newEnv(t, client, "echo 'build failed'; exit 1", "exec sleep 60").connected("emulator-5554")

	out, err := e.run(t, context.Background())
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	if out.Result != ToolFailed || out.Failure == nil {
		t.Fatalf("Run returned %+v; want a tool failure", out)
	}
	if out.Failure.Status != 1 || out.Failure.Output != "build failed\n" {
		t.Errorf("Run returned ToolFailure{Status: %d, Output: %q}; want {1, %q}",
			out.Failure.Status, out.Failure.Output, "build failed\n")
	}
	if out.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d; want 1", out.ExitCode())
	}
	// Gradle's output is the only diagnostic when the app never ran.
	if got := e.stdout.String(); got != "build failed\n" {
		t.Errorf("Run wrote %q; want %q", got, "build failed\n")
	}
	// Once before the run, once after.
	if diff := cmp.Diff([]string{"emulator-5554", "emulator-5554"}, client.stops()); diff != "" {
		t.Errorf("ForceStop calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMonitorFailure(t *testing.T) {
	client := &fakeClient{pid: "42"}
	e := newEnv(t, client, "exec sleep 60", `echo 'error: device offline'; exit 1`).connected("emulator-5554")

	_, err := e.run(t, context.Background())
	var xerr *guard.ExitError
	if !errors.As(err, &xerr) {
		t.Fatalf("Run returned %v; want *guard.ExitError", err)
	}
	if xerr.Stdout != "error: device offline\n" {
		t.Errorf("ExitError.Stdout = %q; want %q", xerr.Stdout, "error: device offline\n")
	}
}

func TestRunCancelled(t *testing.T) {
	client := &fakeClient{pid: ""}
	e := newEnv(t, client, "exec sleep 60", "exec sleep 60").connected("emulator-5554")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	out, err := e.run(t, ctx)
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	if out.Result != Cancelled || out.ExitCode() != 1 {
		t.Errorf("Run returned %v with exit code %d; want cancelled with 1", out.Result, out.ExitCode())
	}
}

func TestOutcomeExitCode(t *testing.T) {
	for _, tc := range []struct {
		out  Outcome
		want int
	}{
		{Outcome{Result: Success}, 0},
		{Outcome{Result: ToolFailed, Failure: &gradle.ToolFailure{Status: 3}}, 3},
		{Outcome{Result: ToolFailed, Failure: &gradle.ToolFailure{Status: -1}}, 1},
		{Outcome{Result: Cancelled}, 1},
	} {
		if got := tc.out.ExitCode(); got != tc.want {
			t.Errorf("%v.ExitCode() = %d; want %d", tc.out.Result, got, tc.want)
		}
	}
}

func TestOutputSignal(t *testing.T) {
	var s OutputSignal
	if s.Observed() {
		t.Error("New signal is observed")
	}
	s.Mark()
	s.Mark()
	if !s.Observed() {
		t.Error("Signal is not observed after Mark")
	}
}
