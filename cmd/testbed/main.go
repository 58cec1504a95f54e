// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the testbed executable, used to run a test suite
// on an Android device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/command"
	"go.chromium.org/testbed/internal/logging"
)

// Version is the version info of this command. It is filled in at build time.
var Version = "<unknown>"

// newLogger creates a console logger based on the supplied command-line flags.
func newLogger(verbose, logTime bool) logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.NewSinkLogger(level, logTime, os.Stdout)
}

// installSignalHandler makes SIGINT and SIGTERM cancel the run via cancel so
// that subprocesses are stopped the same way on both. The terminal state is
// restored first, since a child may have changed it.
func installSignalHandler(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	var st *term.State
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		var err error
		if st, err = term.GetState(fd); err != nil {
			logging.Info(ctx, "Failed to get terminal state: ", err)
		}
	}
	return command.InstallSignalHandler(os.Stderr, func(sig os.Signal) {
		if st != nil {
			term.Restore(fd, st)
		}
		cancel(errors.Errorf("caught %v signal", sig))
	})
}

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newTestCmd(os.Stdout, os.Stderr, os.Getenv), "")
	subcommands.Register(newDevicesCmd(os.Stdout, os.Getenv), "")

	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", false, "include date/time headers in logs")
	flag.Parse()

	if *version {
		fmt.Printf("testbed version %s\n", Version)
		return 0
	}

	ctx := logging.AttachLogger(context.Background(), newLogger(*verbose, *logTime))
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := installSignalHandler(ctx, cancel)
	defer stop()

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
