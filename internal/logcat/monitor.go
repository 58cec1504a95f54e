// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logcat follows the device log of the app under test and forwards
// the app's own output to the console.
package logcat

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/guard"
	"go.chromium.org/testbed/internal/logging"
)

// Default values for Monitor fields.
const (
	DefaultStdoutPrefix = "python.stdout: "
	DefaultStderrPrefix = "python.stderr: "
)

// DefaultNoise lists messages that are dropped below the highest verbosity.
var DefaultNoise = []string{"from python test_syslog"}

// exitWait is how long Run waits for logcat to exit after its output ends.
const exitWait = time.Second

// CommandFactory builds the logcat command for a device and process.
type CommandFactory interface {
	LogcatCommand(serial, pid string) *exec.Cmd
}

// Marker is set the first time the app's own output is seen.
type Marker interface {
	Mark()
	Observed() bool
}

// Monitor streams logcat output for one process.
type Monitor struct {
	Commands CommandFactory
	Stdout   io.Writer
	Stderr   io.Writer
	// Verbose is 0 to hide messages not produced by the app, 1 to show them
	// and 2 to also show noise.
	Verbose      int
	StdoutPrefix string
	StderrPrefix string
	Noise        []string
	Signal       Marker
	Guard        *guard.Options
}

// Run follows the log of pid on serial until logcat exits or ctx is done.
//
// logcat exits with a nonzero status when the device disconnects, which
// always happens with managed devices. This is only an error if the app's
// output was never seen; the returned *guard.ExitError then carries the
// hidden log lines.
func (m *Monitor) Run(ctx context.Context, serial, pid string) error {
	opts := guard.Options{}
	if m.Guard != nil {
		opts = *m.Guard
	}
	opts.CombinedOutput = true

	p, err := guard.Start(ctx, m.Commands.LogcatCommand(serial, pid), &opts)
	if err != nil {
		return err
	}
	defer p.Release(ctx)

	var hidden strings.Builder
	level := Unknown
	for {
		raw, err := p.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to read logcat output")
		}
		line := Parse(raw, level)
		level = line.Level
		if err := m.handle(line, &hidden); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, exitWait)
	defer cancel()
	status, err := p.Wait(wctx)
	if err != nil {
		return errors.Wrap(err, "logcat did not exit after its output ended")
	}
	logging.Debugf(ctx, "logcat exited with status %d", status)
	if status != 0 && !m.Signal.Observed() {
		return &guard.ExitError{Args: p.Args(), Status: status, Stdout: hidden.String()}
	}
	return nil
}

func (m *Monitor) handle(line Line, hidden *strings.Builder) error {
	if m.Verbose < 2 && m.isNoise(line.Message) {
		return nil
	}

	out := m.Stdout
	if line.Level.Severe() {
		out = m.Stderr
	}

	if text, w, ok := m.unwrap(line.Message); ok {
		m.Signal.Mark()
		_, err := io.WriteString(w, text)
		return err
	}

	if m.Verbose >= 1 {
		_, err := io.WriteString(out, line.Raw)
		return err
	}
	hidden.WriteString(line.Raw)
	return nil
}

func (m *Monitor) isNoise(msg string) bool {
	for _, n := range m.Noise {
		if n != "" && strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// unwrap strips a captured-output prefix from msg. The prefix may start the
// message, as when the prefix itself is the logcat tag, or follow an
// explicit "tag: " header. It returns the writer for the matched stream.
func (m *Monitor) unwrap(msg string) (text string, w io.Writer, ok bool) {
	candidates := []string{msg}
	if i := strings.Index(msg, ": "); i >= 0 {
		candidates = append(candidates, msg[i+2:])
	}
	for _, c := range candidates {
		if m.StdoutPrefix != "" && strings.HasPrefix(c, m.StdoutPrefix) {
			return strings.TrimPrefix(c, m.StdoutPrefix), m.Stdout, true
		}
		if m.StderrPrefix != "" && strings.HasPrefix(c, m.StderrPrefix) {
			return strings.TrimPrefix(c, m.StderrPrefix), m.Stderr, true
		}
	}
	return "", nil, false
}
