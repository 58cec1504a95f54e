// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	gotesting "testing"

	"github.com/google/subcommands"

	"go.chromium.org/testbed/testutil"
)

func executeDevicesCmd(t *gotesting.T, args []string, env map[string]string) (subcommands.ExitStatus, string) {
	var stdout bytes.Buffer
	cmd := newDevicesCmd(&stdout, func(k string) string { return env[k] })
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	cmd.SetFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd.Execute(context.Background(), flags), stdout.String()
}

func TestDevices(t *gotesting.T) {
	td := testutil.TempDir(t)
	adb := testutil.WriteExecutable(t, td, "adb", `
printf 'List of devices attached\nemulator-5554\tdevice\nR58M\tunauthorized\n0A1B\tdevice\n\n'
`)
	status, stdout := executeDevicesCmd(t, []string{"-adb", adb}, nil)
	if status != subcommands.ExitSuccess {
		t.Fatalf("devicesCmd.Execute returned status %v; want %v", status, subcommands.ExitSuccess)
	}
	if want := "emulator-5554\n0A1B\n"; stdout != want {
		t.Errorf("devicesCmd.Execute wrote %q; want %q", stdout, want)
	}
}

func TestDevicesAdbFailure(t *gotesting.T) {
	td := testutil.TempDir(t)
	testutil.WriteExecutable(t, td, "platform-tools/adb", "echo 'daemon not running' >&2; exit 1\n")
	status, stdout := executeDevicesCmd(t, nil, map[string]string{"ANDROID_HOME": td})
	if status != subcommands.ExitFailure {
		t.Errorf("devicesCmd.Execute returned status %v; want %v", status, subcommands.ExitFailure)
	}
	want := "daemon not running\nCommand \"" + td + "/platform-tools/adb devices\" returned exit status 1\n"
	if stdout != want {
		t.Errorf("devicesCmd.Execute wrote %q; want %q", stdout, want)
	}
}

func TestDevicesNoAdb(t *gotesting.T) {
	if status, _ := executeDevicesCmd(t, nil, nil); status != subcommands.ExitUsageError {
		t.Errorf("devicesCmd.Execute returned status %v; want %v", status, subcommands.ExitUsageError)
	}
}
