// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// maxFrames is the maximum number of frames recorded for an error.
const maxFrames = 6

// stack is a snapshot of program counters taken where an error was created.
type stack []uintptr

// newStack records the caller's stack. skip=0 makes the caller of newStack
// the innermost frame.
func newStack(skip int) stack {
	pc := make([]uintptr, maxFrames+1)
	return stack(pc[:runtime.Callers(skip+2, pc)])
}

// String renders one "\tat func (file:line)" line per frame.
func (s stack) String() string {
	var b strings.Builder
	frames := runtime.CallersFrames(s)
	for n := 0; ; n++ {
		if n == maxFrames {
			b.WriteString("\t...")
			break
		}
		f, more := frames.Next()
		if n > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
