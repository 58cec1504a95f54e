// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config defines the configuration of a test run.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/command"
	"go.chromium.org/testbed/internal/device"
	"go.chromium.org/testbed/internal/guard"
	"go.chromium.org/testbed/internal/logcat"
)

// DefaultAppID is the application ID of the testbed app.
const DefaultAppID = "org.python.testbed"

// MutableConfig is similar to Config, but its fields are mutable.
// Call Freeze to obtain a Config from MutableConfig.
type MutableConfig struct {
	// See Config for descriptions of these fields.

	AdbPath    string
	GradlePath string
	TestbedDir string
	AppID      string

	Connected string
	Managed   string
	Args      []string
	Verbose   int

	StdoutPrefix  string
	StderrPrefix  string
	NoisePatterns []string

	StartupTimeout     time.Duration
	Timeout            time.Duration
	DevicePollInterval time.Duration
	PidPollInterval    time.Duration
	TerminateGrace     time.Duration
	KillGrace          time.Duration

	AdbServer  string
	ConfigFile string
	ResDir     string
}

// NewMutableConfig returns a MutableConfig holding built-in defaults.
func NewMutableConfig() *MutableConfig {
	return &MutableConfig{
		AppID:              DefaultAppID,
		StdoutPrefix:       logcat.DefaultStdoutPrefix,
		StderrPrefix:       logcat.DefaultStderrPrefix,
		NoisePatterns:      append([]string(nil), logcat.DefaultNoise...),
		StartupTimeout:     device.DefaultStartupTimeout,
		DevicePollInterval: device.DefaultDeviceInterval,
		PidPollInterval:    device.DefaultPidInterval,
		TerminateGrace:     guard.DefaultTerminateGrace,
		KillGrace:          guard.DefaultKillGrace,
	}
}

// SetFlags adds common run-related flags to f that store values in c.
func (c *MutableConfig) SetFlags(f *flag.FlagSet) {
	f.Var(command.NewCountFlag(&c.Verbose), "v", "show more output; repeat to also show noisy messages")
	f.StringVar(&c.Connected, "connected", c.Connected, "serial of a device that is already connected")
	f.StringVar(&c.Managed, "managed", c.Managed, "name of a Gradle managed device to start, e.g. maxVersion")
	f.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML file with additional settings")
	f.StringVar(&c.TestbedDir, "testbed", "testbed", "directory of the testbed Gradle project")
	f.StringVar(&c.AppID, "app", c.AppID, "application ID of the app under test")
	noiseSet := false
	noise := command.RepeatedFlag(func(v string) error {
		// The first use replaces the defaults.
		if !noiseSet {
			c.NoisePatterns = nil
			noiseSet = true
		}
		c.NoisePatterns = append(c.NoisePatterns, v)
		return nil
	})
	f.Var(&noise, "noise", "substring of log messages to hide below -v -v (repeatable)")
	f.Var(command.NewDurationFlag(time.Second, &c.StartupTimeout, c.StartupTimeout), "startuptimeout",
		"time to wait for the device and the app to start, in seconds")
	f.Var(command.NewDurationFlag(time.Second, &c.Timeout, c.Timeout), "timeout",
		"overall timeout for the run in seconds, or 0 for none")
	f.StringVar(&c.AdbServer, "adbserver", c.AdbServer, "host:port of an ADB server to query instead of running adb")
	f.StringVar(&c.ResDir, "resultsdir", c.ResDir, "directory to write full.txt and timing.json to")
}

// fileConfig is the YAML schema of a configuration file. nil fields are
// left unchanged.
type fileConfig struct {
	AdbPath            *string        `yaml:"adb_path"`
	GradlePath         *string        `yaml:"gradle_path"`
	TestbedDir         *string        `yaml:"testbed_dir"`
	AppID              *string        `yaml:"app_id"`
	Connected          *string        `yaml:"connected"`
	Managed            *string        `yaml:"managed"`
	Verbose            *int           `yaml:"verbose"`
	StdoutPrefix       *string        `yaml:"stdout_prefix"`
	StderrPrefix       *string        `yaml:"stderr_prefix"`
	NoisePatterns      []string       `yaml:"noise"`
	StartupTimeout     *time.Duration `yaml:"startup_timeout"`
	Timeout            *time.Duration `yaml:"timeout"`
	DevicePollInterval *time.Duration `yaml:"device_poll_interval"`
	PidPollInterval    *time.Duration `yaml:"pid_poll_interval"`
	TerminateGrace     *time.Duration `yaml:"terminate_grace"`
	KillGrace          *time.Duration `yaml:"kill_grace"`
	AdbServer          *string        `yaml:"adb_server"`
	ResDir             *string        `yaml:"results_dir"`
}

// LoadFile reads YAML settings from path into c. A setting is skipped if
// explicit reports that its command-line flag was given, so flags take
// precedence over the file. explicit may be nil.
func (c *MutableConfig) LoadFile(path string, explicit func(flagName string) bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(b, &fc); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	setString := func(dst *string, v *string, flagName string) {
		if v != nil && (flagName == "" || !explicit(flagName)) {
			*dst = *v
		}
	}
	setDuration := func(dst *time.Duration, v *time.Duration, flagName string) {
		if v != nil && (flagName == "" || !explicit(flagName)) {
			*dst = *v
		}
	}

	setString(&c.AdbPath, fc.AdbPath, "")
	setString(&c.GradlePath, fc.GradlePath, "")
	setString(&c.TestbedDir, fc.TestbedDir, "testbed")
	setString(&c.AppID, fc.AppID, "app")
	setString(&c.Connected, fc.Connected, "connected")
	setString(&c.Managed, fc.Managed, "managed")
	setString(&c.StdoutPrefix, fc.StdoutPrefix, "")
	setString(&c.StderrPrefix, fc.StderrPrefix, "")
	setString(&c.AdbServer, fc.AdbServer, "adbserver")
	setString(&c.ResDir, fc.ResDir, "resultsdir")
	if fc.Verbose != nil && !explicit("v") {
		c.Verbose = *fc.Verbose
	}
	if fc.NoisePatterns != nil && !explicit("noise") {
		c.NoisePatterns = fc.NoisePatterns
	}
	setDuration(&c.StartupTimeout, fc.StartupTimeout, "startuptimeout")
	setDuration(&c.Timeout, fc.Timeout, "timeout")
	setDuration(&c.DevicePollInterval, fc.DevicePollInterval, "")
	setDuration(&c.PidPollInterval, fc.PidPollInterval, "")
	setDuration(&c.TerminateGrace, fc.TerminateGrace, "")
	setDuration(&c.KillGrace, fc.KillGrace, "")
	return nil
}

// DeriveDefaults sets default config values to unset members, possibly
// deriving from already set members and the environment. It should be
// called after non-default values are set to c.
func (c *MutableConfig) DeriveDefaults(getenv func(string) string) error {
	if c.AdbPath == "" {
		home := getenv("ANDROID_HOME")
		if home == "" {
			return errors.New("ANDROID_HOME is not set; set it to the Android SDK directory or set adb_path")
		}
		c.AdbPath = filepath.Join(home, "platform-tools", "adb")
	}
	if c.GradlePath == "" && c.TestbedDir != "" {
		c.GradlePath = filepath.Join(c.TestbedDir, "gradlew")
	}
	return nil
}

// Validate checks that c describes a runnable test.
func (c *MutableConfig) Validate() error {
	if (c.Connected == "") == (c.Managed == "") {
		return errors.New("exactly one of -connected and -managed must be given")
	}
	if c.TestbedDir == "" {
		return errors.New("testbed directory is not set")
	}
	if c.AppID == "" {
		return errors.New("application ID is not set")
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"startup timeout", c.StartupTimeout},
		{"device poll interval", c.DevicePollInterval},
		{"pid poll interval", c.PidPollInterval},
		{"terminate grace", c.TerminateGrace},
		{"kill grace", c.KillGrace},
	} {
		if d.v <= 0 {
			return errors.Errorf("%s must be positive; got %v", d.name, d.v)
		}
	}
	if c.Timeout < 0 {
		return errors.Errorf("timeout must not be negative; got %v", c.Timeout)
	}
	return nil
}

// Freeze returns a frozen configuration object.
func (c *MutableConfig) Freeze() *Config {
	return &Config{m: c}
}

// Config contains shared configuration information for running a test.
type Config struct {
	m *MutableConfig
}

// AdbPath is the path of the adb executable.
func (c *Config) AdbPath() string { return c.m.AdbPath }

// GradlePath is the path of the Gradle wrapper.
func (c *Config) GradlePath() string { return c.m.GradlePath }

// TestbedDir is the directory of the testbed Gradle project.
func (c *Config) TestbedDir() string { return c.m.TestbedDir }

// AppID is the application ID of the app under test.
func (c *Config) AppID() string { return c.m.AppID }

// Connected is the serial of a pre-connected device, or empty.
func (c *Config) Connected() string { return c.m.Connected }

// Managed is the name of a Gradle managed device, or empty.
func (c *Config) Managed() string { return c.m.Managed }

// Args are the arguments passed to the app.
func (c *Config) Args() []string { return append([]string(nil), c.m.Args...) }

// Verbose is the verbosity level. 1 shows all log messages and build
// output; 2 also shows noise.
func (c *Config) Verbose() int { return c.m.Verbose }

// StdoutPrefix marks the app's stdout in the device log.
func (c *Config) StdoutPrefix() string { return c.m.StdoutPrefix }

// StderrPrefix marks the app's stderr in the device log.
func (c *Config) StderrPrefix() string { return c.m.StderrPrefix }

// NoisePatterns are substrings of log messages hidden below verbosity 2.
func (c *Config) NoisePatterns() []string { return append([]string(nil), c.m.NoisePatterns...) }

// StartupTimeout bounds the time to find the device and the app process.
func (c *Config) StartupTimeout() time.Duration { return c.m.StartupTimeout }

// Timeout bounds the whole run. Zero means no timeout.
func (c *Config) Timeout() time.Duration { return c.m.Timeout }

// DevicePollInterval is the interval between device list queries.
func (c *Config) DevicePollInterval() time.Duration { return c.m.DevicePollInterval }

// PidPollInterval is the interval between app process queries.
func (c *Config) PidPollInterval() time.Duration { return c.m.PidPollInterval }

// TerminateGrace is how long a subprocess may take to exit after SIGTERM.
func (c *Config) TerminateGrace() time.Duration { return c.m.TerminateGrace }

// KillGrace is how long to wait to reap a subprocess after SIGKILL.
func (c *Config) KillGrace() time.Duration { return c.m.KillGrace }

// AdbServer is the host:port of an ADB server to query, or empty to run adb.
func (c *Config) AdbServer() string { return c.m.AdbServer }

// ResDir is the directory to write logs and timing to, or empty.
func (c *Config) ResDir() string { return c.m.ResDir }

// GuardOptions returns the options for subprocesses of the run.
func (c *Config) GuardOptions() *guard.Options {
	return &guard.Options{TerminateGrace: c.m.TerminateGrace, KillGrace: c.m.KillGrace}
}
