// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/subcommands"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/adb"
	"go.chromium.org/testbed/internal/command"
	"go.chromium.org/testbed/internal/device"
	"go.chromium.org/testbed/internal/logging"
)

// devicesCmd implements subcommands.Command to list connected devices.
type devicesCmd struct {
	adbPath   string
	adbServer string
	stdout    io.Writer
	getenv    func(string) string
}

var _ = subcommands.Command(&devicesCmd{})

func newDevicesCmd(stdout io.Writer, getenv func(string) string) *devicesCmd {
	return &devicesCmd{stdout: stdout, getenv: getenv}
}

func (*devicesCmd) Name() string     { return "devices" }
func (*devicesCmd) Synopsis() string { return "list connected devices" }
func (*devicesCmd) Usage() string {
	return `Usage: devices [flag]...

Description:
    Prints the serials of connected devices, one per line. A serial can be
    passed to "test -connected".

Flag:
`
}

func (c *devicesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.adbPath, "adb", "", "path of adb (default $ANDROID_HOME/platform-tools/adb)")
	f.StringVar(&c.adbServer, "adbserver", "", "host:port of an ADB server to query instead of running adb")
}

func (c *devicesCmd) lister() (device.Lister, error) {
	if c.adbServer != "" {
		sc, err := adb.NewServerClient(c.adbServer)
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
	path := c.adbPath
	if path == "" {
		home := c.getenv("ANDROID_HOME")
		if home == "" {
			return nil, errors.New("ANDROID_HOME is not set; pass -adb or -adbserver")
		}
		path = filepath.Join(home, "platform-tools", "adb")
	}
	return adb.NewBridge(path, nil), nil
}

func (c *devicesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		logging.Info(ctx, "Unexpected arguments.\n\n"+c.Usage())
		return subcommands.ExitUsageError
	}
	l, err := c.lister()
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitUsageError
	}
	serials, err := l.Devices(ctx)
	if err != nil {
		if !command.ReportExitError(c.stdout, err) {
			logging.Info(ctx, "Failed to list devices: ", err)
		}
		return subcommands.ExitFailure
	}
	for _, s := range serials {
		fmt.Fprintln(c.stdout, s)
	}
	return subcommands.ExitSuccess
}
