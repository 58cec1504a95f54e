// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains code shared by the testbed executables.
package command

import (
	"fmt"
	"io"

	"go.chromium.org/testbed/errors"
	"go.chromium.org/testbed/internal/guard"
)

// ReportExitError writes the output captured from a failed command followed
// by a line that re-runs it, and returns true. It returns false without
// writing anything if err does not wrap a *guard.ExitError.
func ReportExitError(w io.Writer, err error) bool {
	var xerr *guard.ExitError
	if !errors.As(err, &xerr) {
		return false
	}
	fmt.Fprintln(w, xerr.Details())
	return true
}
