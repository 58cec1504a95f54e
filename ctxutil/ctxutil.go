// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ctxutil provides convenience functions for working with context.Context objects.
package ctxutil

import (
	"context"
	"math"
	"time"
)

// MaxTimeout is the maximum value of time.Duration, approximately 290 years.
const MaxTimeout time.Duration = math.MaxInt64

// Cleanup returns a context for cleanup work that must run after ctx has been
// canceled, e.g. stopping subprocesses. It keeps the values of ctx (such as
// attached loggers) but not its cancellation, and expires after d.
func Cleanup(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
