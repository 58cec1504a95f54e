// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package guard runs external processes whose lifetime is bound to a scope.
//
// A process started with Start is released, i.e. terminated and reaped, when
// its Release method is called or when the context passed to Start is done,
// whichever happens first. Release is idempotent, so the usual pattern is:
//
//	p, err := guard.Start(ctx, cmd, nil)
//	if err != nil {
//		return err
//	}
//	defer p.Release(ctx)
package guard

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/logging"
	"go.chromium.org/testbed/shutil"
)

const (
	// DefaultTerminateGrace is how long Release waits for a process to exit
	// after SIGTERM. It is long enough for build tools to tear down the
	// emulators they started.
	DefaultTerminateGrace = 10 * time.Second
	// DefaultKillGrace is how long Release waits to reap a process after SIGKILL.
	DefaultKillGrace = time.Second
)

// State is the lifecycle state of a guarded process. It only moves forward.
type State int32

const (
	// Running means the process has been started and has not been asked to stop.
	Running State = iota
	// Terminating means Release has signaled the process and is waiting for it.
	Terminating
	// Exited means the process has been reaped.
	Exited
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Options controls how a process is started and released.
type Options struct {
	// CombinedOutput makes the guard own a pipe connected to both stdout and
	// stderr of the process. Read it with ReadLine. If false, cmd.Stdout and
	// cmd.Stderr are used as set by the caller.
	CombinedOutput bool
	// TerminateGrace overrides DefaultTerminateGrace if positive.
	TerminateGrace time.Duration
	// KillGrace overrides DefaultKillGrace if positive.
	KillGrace time.Duration
	// Clock is the time source for grace periods. nil means the real clock.
	Clock clock.Clock
}

// Process is an external process owned by a single task.
type Process struct {
	cmd            *exec.Cmd
	clk            clock.Clock
	terminateGrace time.Duration
	killGrace      time.Duration

	state   atomic.Int32
	exited  chan struct{} // closed after cmd.Wait returns
	waitErr error         // valid after exited is closed

	out    *os.File // read end of the combined output pipe; nil if not owned
	reader *bufio.Reader

	stopWatch   func() bool
	releaseOnce sync.Once
}

// Start starts cmd and returns a guard for it. The process is released
// automatically when ctx is done.
func Start(ctx context.Context, cmd *exec.Cmd, opts *Options) (p *Process, retErr error) {
	if opts == nil {
		opts = &Options{}
	}
	p = &Process{
		cmd:            cmd,
		clk:            opts.Clock,
		terminateGrace: opts.TerminateGrace,
		killGrace:      opts.KillGrace,
		exited:         make(chan struct{}),
	}
	if p.clk == nil {
		p.clk = clock.NewClock()
	}
	if p.terminateGrace <= 0 {
		p.terminateGrace = DefaultTerminateGrace
	}
	if p.killGrace <= 0 {
		p.killGrace = DefaultKillGrace
	}

	var w *os.File
	if opts.CombinedOutput {
		r, pw, err := os.Pipe()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create output pipe")
		}
		p.out, w = r, pw
		p.reader = bufio.NewReader(r)
		cmd.Stdout = w
		cmd.Stderr = w
		defer func() {
			if retErr != nil {
				r.Close()
			}
		}()
	}

	err := cmd.Start()
	if w != nil {
		// The child has its own copy; keeping ours would prevent EOF.
		w.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", p)
	}
	logging.Debugf(ctx, "Started %s (pid %d)", p, cmd.Process.Pid)

	go func() {
		p.waitErr = cmd.Wait()
		p.state.Store(int32(Exited))
		close(p.exited)
	}()

	p.stopWatch = context.AfterFunc(ctx, func() {
		p.releaseOnce.Do(func() { p.release(context.WithoutCancel(ctx)) })
	})
	return p, nil
}

// String returns the command line of the process in a form that can be
// pasted into a shell.
func (p *Process) String() string {
	if len(p.cmd.Args) == 0 {
		return shutil.Escape(p.cmd.Path)
	}
	return shutil.EscapeSlice(p.cmd.Args)
}

// Args returns the arguments the process was launched with, including the
// command name.
func (p *Process) Args() []string {
	return append([]string(nil), p.cmd.Args...)
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ReadLine reads the next line of combined output, including its trailing
// newline if present. Invalid UTF-8 is escaped as \xNN. It returns io.EOF
// once the output has been fully consumed or the guard has been released.
func (p *Process) ReadLine() (string, error) {
	if p.reader == nil {
		return "", errors.New("process output is not owned by the guard")
	}
	b, err := p.reader.ReadBytes('\n')
	if len(b) > 0 {
		return Decode(b), nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		// Reads fail with os.ErrClosed after Release closes the pipe.
		return "", io.EOF
	}
	return "", err
}

// Wait waits for the process to exit and returns its exit status. A nonzero
// status is not an error. If the process was killed by a signal, the status
// is -1.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.exited:
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	if p.waitErr != nil {
		var xerr *exec.ExitError
		if !errors.As(p.waitErr, &xerr) {
			return -1, errors.Wrapf(p.waitErr, "failed to wait for %s", p)
		}
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

// Release stops the process if it is still running and releases resources
// owned by the guard. It first sends SIGTERM and waits for the terminate
// grace period, then sends SIGKILL and waits for the kill grace period.
//
// Release never fails; problems are logged to ctx. It is safe to call
// Release multiple times and from multiple goroutines; every call returns
// after the first one has finished.
func (p *Process) Release(ctx context.Context) {
	p.stopWatch()
	p.releaseOnce.Do(func() { p.release(ctx) })
}

func (p *Process) release(ctx context.Context) {
	if p.out != nil {
		defer p.out.Close()
	}

	select {
	case <-p.exited:
		return
	default:
	}
	p.state.CompareAndSwap(int32(Running), int32(Terminating))

	if err := p.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logging.Infof(ctx, "Failed to send SIGTERM to %s: %v", p, err)
	}
	if p.waitExit(p.terminateGrace) {
		return
	}

	logging.Infof(ctx, "Command %s did not terminate after %v - sending SIGKILL", p, p.terminateGrace)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logging.Infof(ctx, "Failed to send SIGKILL to %s: %v", p, err)
	}
	// Even a killed process must be reaped to avoid leaking it.
	if p.waitExit(p.killGrace) {
		return
	}
	if !p.stillAlive() {
		// Gone but not reaped yet; the wait goroutine collects it.
		return
	}
	logging.Infof(ctx, "Command %s (pid %d) is still alive %v after SIGKILL", p, p.cmd.Process.Pid, p.killGrace)
}

// stillAlive reports whether the process still exists as seen by the OS.
// A lookup failure counts as alive.
func (p *Process) stillAlive() bool {
	alive, err := process.PidExists(int32(p.cmd.Process.Pid))
	return err != nil || alive
}

// waitExit reports whether the process exits within d.
func (p *Process) waitExit(d time.Duration) bool {
	tm := p.clk.NewTimer(d)
	defer tm.Stop()
	select {
	case <-p.exited:
		return true
	case <-tm.C():
		return false
	}
}
