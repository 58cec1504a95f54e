// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/electricbubble/gadb"

	"go.chromium.org/testbed/errors"
)

// DefaultServerPort is the port the ADB server listens on by default.
const DefaultServerPort = 5037

// ServerClient talks to a running ADB server over its socket protocol.
//
// gadb calls do not take contexts, so a canceled ctx only takes effect
// between calls.
type ServerClient struct {
	client gadb.Client
}

var _ Client = &ServerClient{}

// NewServerClient connects to the ADB server at addr ("host" or "host:port").
func NewServerClient(addr string) (*ServerClient, error) {
	host, port, err := parseServerAddr(addr)
	if err != nil {
		return nil, err
	}
	cl, err := gadb.NewClientWith(host, port)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to ADB server at %s", addr)
	}
	return &ServerClient{client: cl}, nil
}

func parseServerAddr(addr string) (host string, port int, err error) {
	if addr == "" {
		return "", 0, errors.New("empty ADB server address")
	}
	if !strings.Contains(addr, ":") {
		return addr, DefaultServerPort, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to parse ADB server address %q", addr)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, errors.Errorf("invalid ADB server port %q", portStr)
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}

// Devices returns the serials of devices the server reports as online.
func (c *ServerClient) Devices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := c.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ADB devices")
	}
	serials := []string{}
	for _, d := range devices {
		st, err := d.State()
		if err != nil {
			// The device may have disconnected since it was listed.
			continue
		}
		if st == gadb.StateOnline {
			serials = append(serials, d.Serial())
		}
	}
	return serials, nil
}

func (c *ServerClient) device(serial string) (gadb.Device, error) {
	devices, err := c.client.DeviceList()
	if err != nil {
		return gadb.Device{}, errors.Wrap(err, "failed to get ADB devices")
	}
	for _, d := range devices {
		if d.Serial() == serial {
			return d, nil
		}
	}
	return gadb.Device{}, errors.Errorf("device %q not found", serial)
}

// Pidof runs "pidof -s appID" on the device. The shell protocol used by the
// server does not report exit status, so a missing process yields "".
func (c *ServerClient) Pidof(ctx context.Context, serial, appID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d, err := c.device(serial)
	if err != nil {
		return "", err
	}
	out, err := d.RunShellCommand("pidof", "-s", appID)
	if err != nil {
		return "", errors.Wrapf(err, "pidof on %s failed", serial)
	}
	return strings.TrimSpace(out), nil
}

// ForceStop runs "am force-stop appID" on the device.
func (c *ServerClient) ForceStop(ctx context.Context, serial, appID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := c.device(serial)
	if err != nil {
		return err
	}
	if _, err := d.RunShellCommand("am", "force-stop", appID); err != nil {
		return errors.Wrapf(err, "force-stop on %s failed", serial)
	}
	return nil
}
