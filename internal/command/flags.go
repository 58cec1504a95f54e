// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"strconv"
	"time"
)

// CountFlag implements flag.Value for a flag that may be given several
// times, such as -v -v. Each occurrence increments the destination. An
// explicit -v=N sets it.
type CountFlag struct {
	dst *int
}

// NewCountFlag returns a CountFlag that stores the count in dst.
func NewCountFlag(dst *int) *CountFlag { return &CountFlag{dst} }

// IsBoolFlag makes the flag package accept the flag without a value.
func (f *CountFlag) IsBoolFlag() bool { return true }

func (f *CountFlag) String() string {
	if f.dst == nil {
		return "0"
	}
	return strconv.Itoa(*f.dst)
}

func (f *CountFlag) Set(v string) error {
	// The flag package passes "true" for a bare boolean flag.
	if v == "true" {
		*f.dst++
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*f.dst = n
	return nil
}

// RepeatedFlag implements flag.Value around an assignment function that is
// executed each time the flag is supplied.
type RepeatedFlag func(v string) error

func (f *RepeatedFlag) Set(v string) error { return (*f)(v) }
func (f *RepeatedFlag) String() string    { return "" }

// DurationFlag implements flag.Value for a duration given either as an
// integer number of units or in time.ParseDuration syntax.
type DurationFlag struct {
	units time.Duration
	dst   *time.Duration
}

// NewDurationFlag returns a DurationFlag that interprets plain integers as
// multiples of units. dst is set to def.
func NewDurationFlag(units time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{units, dst}
}

func (f *DurationFlag) String() string {
	if f.dst == nil {
		return ""
	}
	return f.dst.String()
}

func (f *DurationFlag) Set(v string) error {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*f.dst = time.Duration(n) * f.units
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*f.dst = d
	return nil
}
