// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package guard

import (
	"context"
	"os/exec"
	"testing"
)

func TestStillAlive(t *testing.T) {
	ctx := context.Background()
	p, err := Start(ctx, exec.Command("sleep", "60"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(ctx)

	if !p.stillAlive() {
		t.Error("stillAlive() = false for a running process; want true")
	}

	p.Release(ctx)
	if _, err := p.Wait(ctx); err != nil {
		t.Fatal("Wait failed: ", err)
	}
	if p.stillAlive() {
		t.Error("stillAlive() = true for a reaped process; want false")
	}
}
