// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logcat

import (
	"bytes"
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/guard"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		prev Level
		want Line
	}{
		{"I/tag: hello\n", Unknown, Line{Level: Info, Message: "tag: hello\n", Raw: "I/tag: hello\n"}},
		{"E/python.stderr: Traceback\n", Info, Line{Level: Error, Message: "python.stderr: Traceback\n", Raw: "E/python.stderr: Traceback\n"}},
		{"  at frame\n", Error, Line{Level: Error, Message: "  at frame\n", Raw: "  at frame\n", Continuation: true}},
		{"no level\n", Unknown, Line{Level: Unknown, Message: "no level\n", Raw: "no level\n", Continuation: true}},
		{"i/lowercase\n", Unknown, Line{Level: Unknown, Message: "i/lowercase\n", Raw: "i/lowercase\n", Continuation: true}},
		{"W/\n", Unknown, Line{Level: Warn, Message: "\n", Raw: "W/\n"}},
	} {
		if diff := cmp.Diff(tc.want, Parse(tc.raw, tc.prev)); diff != "" {
			t.Errorf("Parse(%q, %v) mismatch (-want +got):\n%s", tc.raw, tc.prev, diff)
		}
	}
}

func TestLevelSevere(t *testing.T) {
	for l, want := range map[Level]bool{
		Unknown: false, Verbose: false, Debug: false, Info: false,
		Warn: true, Error: true, Fatal: true, Assert: true,
	} {
		if got := l.Severe(); got != want {
			t.Errorf("%v.Severe() = %v; want %v", l, got, want)
		}
	}
}

type flag struct{ v atomic.Bool }

func (f *flag) Mark()          { f.v.Store(true) }
func (f *flag) Observed() bool { return f.v.Load() }

// scriptCommands runs a shell script in place of logcat.
type scriptCommands struct {
	script string
	serial string
	pid    string
}

func (s *scriptCommands) LogcatCommand(serial, pid string) *exec.Cmd {
	s.serial, s.pid = serial, pid
	return exec.Command("sh", "-c", s.script)
}

type result struct {
	stdout, stderr string
	observed       bool
	err            error
}

func runMonitor(t *testing.T, script string, verbose int) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	sig := &flag{}
	m := &Monitor{
		Commands:     &scriptCommands{script: script},
		Stdout:       &stdout,
		Stderr:       &stderr,
		Verbose:      verbose,
		StdoutPrefix: DefaultStdoutPrefix,
		StderrPrefix: DefaultStderrPrefix,
		Noise:        DefaultNoise,
		Signal:       sig,
	}
	err := m.Run(context.Background(), "emulator-5554", "1234")
	return result{stdout.String(), stderr.String(), sig.Observed(), err}
}

func TestRunUnwrapsTaggedOutput(t *testing.T) {
	got := runMonitor(t, `printf '%s\n' 'I/tag: python.stdout: hello'`, 0)
	if got.err != nil {
		t.Fatal("Run failed: ", got.err)
	}
	if diff := cmp.Diff(result{stdout: "hello\n", observed: true}, got, cmp.AllowUnexported(result{})); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRouting(t *testing.T) {
	const script = `
printf '%s\n' 'I/python.stdout: test_a ... ok'
printf '%s\n' 'W/python.stderr: Traceback (most recent call last):'
printf '%s\n' 'D/ActivityThread: binding'
printf '%s\n' 'E/AndroidRuntime: FATAL EXCEPTION'
printf '%s\n' '    at java.lang.Thread.run'
`
	got := runMonitor(t, script, 1)
	if got.err != nil {
		t.Fatal("Run failed: ", got.err)
	}
	want := result{
		stdout:   "test_a ... ok\nD/ActivityThread: binding\n",
		stderr:   "Traceback (most recent call last):\nE/AndroidRuntime: FATAL EXCEPTION\n    at java.lang.Thread.run\n",
		observed: true,
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(result{})); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}
}

func TestRunHidesOtherMessages(t *testing.T) {
	got := runMonitor(t, `printf '%s\n' 'D/ActivityThread: binding' 'I/python.stdout: only this'`, 0)
	if got.err != nil {
		t.Fatal("Run failed: ", got.err)
	}
	if got.stdout != "only this\n" || got.stderr != "" {
		t.Errorf("Run wrote stdout %q, stderr %q; want %q, %q", got.stdout, got.stderr, "only this\n", "")
	}
}

func TestRunNoise(t *testing.T) {
	const script = `printf '%s\n' 'I/python.stdout: message from python test_syslog' 'I/python.stdout: kept'`
	for _, tc := range []struct {
		verbose int
		want    string
	}{
		{0, "kept\n"},
		{1, "kept\n"},
		{2, "message from python test_syslog\nkept\n"},
	} {
		got := runMonitor(t, script, tc.verbose)
		if got.err != nil {
			t.Fatalf("Run with verbose %d failed: %v", tc.verbose, got.err)
		}
		if got.stdout != tc.want {
			t.Errorf("Run with verbose %d wrote %q; want %q", tc.verbose, got.stdout, tc.want)
		}
	}
}

func TestRunFailureBeforeOutput(t *testing.T) {
	got := runMonitor(t, `printf '%s\n' '- waiting for device -' 'D/x: y'; exit 255`, 0)

	var xerr *guard.ExitError
	if !errors.As(got.err, &xerr) {
		t.Fatalf("Run returned %v; want *guard.ExitError", got.err)
	}
	want := &guard.ExitError{
		Args:   []string{"sh", "-c", `printf '%s\n' '- waiting for device -' 'D/x: y'; exit 255`},
		Status: 255,
		Stdout: "- waiting for device -\nD/x: y\n",
	}
	if diff := cmp.Diff(want, xerr); diff != "" {
		t.Errorf("ExitError mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFailureAfterOutput(t *testing.T) {
	// Disconnection after the app has run is not an error.
	got := runMonitor(t, `printf '%s\n' 'I/python.stdout: done'; exit 1`, 0)
	if got.err != nil {
		t.Errorf("Run returned %v; want nil", got.err)
	}
}

// cancelWriter cancels a context on its first write.
type cancelWriter struct {
	buf    bytes.Buffer
	cancel context.CancelFunc
}

func (w *cancelWriter) Write(p []byte) (int, error) {
	w.cancel()
	return w.buf.Write(p)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &cancelWriter{cancel: cancel}
	m := &Monitor{
		Commands:     &scriptCommands{script: `printf '%s\n' 'I/python.stdout: started'; exec sleep 60`},
		Stdout:       stdout,
		Stderr:       &bytes.Buffer{},
		StdoutPrefix: DefaultStdoutPrefix,
		Signal:       &flag{},
		Guard:        &guard.Options{TerminateGrace: time.Second},
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, "emulator-5554", "1234") }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v; want %v", err, context.Canceled)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if got := stdout.buf.String(); got != "started\n" {
		t.Errorf("Run wrote %q; want %q", got, "started\n")
	}
}

func TestRunPassesDeviceAndPid(t *testing.T) {
	cmds := &scriptCommands{script: "true"}
	m := &Monitor{Commands: cmds, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Signal: &flag{}}
	if err := m.Run(context.Background(), "R58M123", "4321"); err != nil {
		t.Fatal("Run failed: ", err)
	}
	if cmds.serial != "R58M123" || cmds.pid != "4321" {
		t.Errorf("LogcatCommand got (%q, %q); want (%q, %q)", cmds.serial, cmds.pid, "R58M123", "4321")
	}
}
