// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timing records how long the stages of a test run take.
package timing

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Log holds a tree of timed stages.
type Log struct {
	clk clock.Clock
	// Root contains all stages as descendants. Its timestamps are unused.
	Root *Stage
}

// NewLog returns an empty Log measured by clk. A nil clk means the real clock.
func NewLog(clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Log{clk: clk, Root: &Stage{clk: clk}}
}

// MarshalJSON writes the top-level stages as {"stages": [...]}.
func (l *Log) MarshalJSON() ([]byte, error) {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()
	return json.Marshal(struct {
		Stages []*Stage `json:"stages"`
	}{l.Root.Children})
}

// WritePretty writes the stages as nested arrays of duration in seconds,
// name and children, one stage per line:
//
//	[[12.000, "run", [
//	         [3.000, "device-wait"],
//	         [9.000, "gradle"]]]]
func (l *Log) WritePretty(w io.Writer) error {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()

	// bufio.Writer stops writing after the first error.
	bw := bufio.NewWriter(w)
	io.WriteString(bw, "[")
	for i, s := range l.Root.Children {
		indent := ""
		if i > 0 {
			indent = " "
		}
		if err := s.writePretty(bw, indent, " ", i == len(l.Root.Children)-1); err != nil {
			return err
		}
	}
	io.WriteString(bw, "]\n")
	return bw.Flush()
}

// Stage is a timed unit of work.
type Stage struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Children  []*Stage  `json:"children,omitempty"`

	clk clock.Clock
	mu  sync.Mutex // protects EndTime and Children
}

// StartChild starts a stage named name under s. It returns nil if s has
// already ended.
func (s *Stage) StartChild(name string) *Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.EndTime.IsZero() {
		return nil
	}
	c := &Stage{Name: name, StartTime: s.clk.Now(), clk: s.clk}
	s.Children = append(s.Children, c)
	return c
}

// End ends s and any children still running. It is a no-op on a nil or
// already ended stage.
func (s *Stage) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.EndTime.IsZero() {
		return
	}
	for _, c := range s.Children {
		c.End()
	}
	s.EndTime = s.clk.Now()
}

func (s *Stage) writePretty(w *bufio.Writer, initialIndent, followIndent string, last bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := json.Marshal(&s.Name)
	if err != nil {
		return err
	}
	end := s.EndTime
	if end.IsZero() {
		end = s.clk.Now()
	}
	fmt.Fprintf(w, "%s[%0.3f, %s", initialIndent, end.Sub(s.StartTime).Seconds(), name)

	if len(s.Children) > 0 {
		io.WriteString(w, ", [\n")
		ci := followIndent + strings.Repeat(" ", 8)
		for i, c := range s.Children {
			if err := c.writePretty(w, ci, ci, i == len(s.Children)-1); err != nil {
				return err
			}
		}
		io.WriteString(w, "]")
	}
	io.WriteString(w, "]")
	if !last {
		io.WriteString(w, ",\n")
	}
	return nil
}

type key int

const (
	logKey key = iota
	stageKey
)

// NewContext returns a context carrying l, with its root as the current stage.
func NewContext(ctx context.Context, l *Log) context.Context {
	ctx = context.WithValue(ctx, logKey, l)
	return context.WithValue(ctx, stageKey, l.Root)
}

// Start starts a stage named name under the current stage of ctx and makes
// it current in the returned context. Without a Log in ctx it returns ctx
// and a nil stage, which is safe to End.
//
//	ctx, st := timing.Start(ctx, "device-wait")
//	defer st.End()
func Start(ctx context.Context, name string) (context.Context, *Stage) {
	s, ok := ctx.Value(stageKey).(*Stage)
	if !ok {
		return ctx, nil
	}
	c := s.StartChild(name)
	if c == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, stageKey, c), c
}
