// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package adb talks to Android devices through the Android Debug Bridge.
//
// Bridge runs the adb executable. ServerClient speaks the ADB server protocol
// directly and can replace Bridge for everything except log streaming.
package adb

import (
	"context"
	"os/exec"
	"strings"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/guard"
)

// devicesHeader is the line adb prints before the device table.
const devicesHeader = "List of devices attached"

// onlineStatus is the status of a device that is connected and authorized.
const onlineStatus = "device"

// Client is the subset of device operations used to find and stop the app
// under test.
type Client interface {
	// Devices returns the serials of connected devices.
	Devices(ctx context.Context) ([]string, error)
	// Pidof returns the pid of the process named appID on the device, or an
	// empty string if it is not running. A nonzero exit of the underlying
	// command is reported as *guard.ExitError.
	Pidof(ctx context.Context, serial, appID string) (string, error)
	// ForceStop stops appID on the device.
	ForceStop(ctx context.Context, serial, appID string) error
}

// Bridge runs the adb executable.
type Bridge struct {
	path string
	opts *guard.Options
}

var _ Client = &Bridge{}

// NewBridge returns a Bridge running the adb executable at path. opts is
// passed to every guarded adb process; it may be nil.
func NewBridge(path string, opts *guard.Options) *Bridge {
	return &Bridge{path: path, opts: opts}
}

// Devices runs "adb devices" and returns the serials of connected devices.
func (b *Bridge) Devices(ctx context.Context) ([]string, error) {
	out, err := guard.Output(ctx, exec.Command(b.path, "devices"), b.opts)
	if err != nil {
		return nil, err
	}
	return ParseDevices(out)
}

// Pidof runs "pidof -s appID" on the device.
func (b *Bridge) Pidof(ctx context.Context, serial, appID string) (string, error) {
	out, err := guard.Output(ctx, exec.Command(b.path, "-s", serial, "shell", "pidof", "-s", appID), b.opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ForceStop runs "am force-stop appID" on the device.
func (b *Bridge) ForceStop(ctx context.Context, serial, appID string) error {
	_, err := guard.Output(ctx, exec.Command(b.path, "-s", serial, "shell", "am", "force-stop", appID), b.opts)
	return err
}

// LogcatCommand returns a command streaming the device log of pid, one
// "<LEVEL>/<tag>: <message>" line per entry. --pid needs API level 24.
func (b *Bridge) LogcatCommand(serial, pid string) *exec.Cmd {
	return exec.Command(b.path, "-s", serial, "logcat", "--pid", pid, "--format", "tag")
}

// ParseDevices parses the output of "adb devices". Blank lines and lines
// before the header are ignored. Only devices in the "device" state are
// returned; offline or unauthorized devices are skipped.
func ParseDevices(out string) ([]string, error) {
	serials := []string{}
	headerFound := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == devicesHeader {
			headerFound = true
			continue
		}
		if !headerFound || line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("failed to parse %q", line)
		}
		if fields[1] == onlineStatus {
			serials = append(serials, fields[0])
		}
	}
	if !headerFound {
		return nil, errors.Errorf("failed to parse device list %q: header not found", out)
	}
	return serials, nil
}
