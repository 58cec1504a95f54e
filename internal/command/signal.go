// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler treats SIGINT and SIGTERM alike. On the first signal
// it calls callback, which is expected to cancel the run so that
// subprocesses are cleaned up in the normal way. If a second signal
// arrives before that finishes, child processes are sent SIGTERM and the
// program exits with status 1. out is the output stream to write messages
// to (typically stderr). The returned function stops handling signals.
func InstallSignalHandler(out io.Writer, callback func(sig os.Signal)) (stop func()) {
	ch := make(chan os.Signal, 2)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			fmt.Fprintf(out, "\n%s: Caught %v signal; cleaning up\n", selfName, sig)
			callback(sig)
		case <-done:
			return
		}
		select {
		case sig := <-ch:
			fmt.Fprintf(out, "\n%s: Caught %v signal again; exiting\n", selfName, sig)
			TerminateChildren(out)
			os.Exit(1)
		case <-done:
		}
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// TerminateChildren sends SIGTERM to all direct child processes.
func TerminateChildren(out io.Writer) {
	procs, err := process.Processes()
	if err != nil {
		fmt.Fprintf(out, "Failed to terminate subprocesses: %v\n", err)
		return
	}
	selfPid := int32(os.Getpid())
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid == selfPid {
			proc.Terminate()
		}
	}
}
