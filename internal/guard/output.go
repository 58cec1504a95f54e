// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package guard

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.chromium.org/testbed/shutil"
)

// ExitError is returned when a command exits with a nonzero status. It keeps
// whatever output was captured so it can be shown to the user together with
// a command line that re-runs the command.
type ExitError struct {
	Args   []string
	Status int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q returned exit status %d", shutil.EscapeSlice(e.Args), e.Status)
}

// Details renders the captured output followed by a line naming the command
// in a form that can be copied into a shell. It is what users see when a
// command fails.
func (e *ExitError) Details() string {
	var b strings.Builder
	for _, s := range []string{e.Stdout, e.Stderr} {
		if s == "" {
			continue
		}
		b.WriteString(s)
		if !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "Command \"%s\" returned exit status %d", shutil.EscapeSlice(e.Args), e.Status)
	return b.String()
}

// Output runs cmd under a guard and returns its stdout. If the command exits
// with a nonzero status, an *ExitError holding both output streams is
// returned. If ctx is done first, the process is released and ctx.Err() is
// returned.
func Output(ctx context.Context, cmd *exec.Cmd, opts *Options) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts != nil && opts.CombinedOutput {
		o := *opts
		o.CombinedOutput = false
		opts = &o
	}

	p, err := Start(ctx, cmd, opts)
	if err != nil {
		return "", err
	}
	defer p.Release(ctx)

	status, err := p.Wait(ctx)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", &ExitError{
			Args:   p.Args(),
			Status: status,
			Stdout: Decode(stdout.Bytes()),
			Stderr: Decode(stderr.Bytes()),
		}
	}
	return Decode(stdout.Bytes()), nil
}
