// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"io"
	"sync"
	"time"
)

// timestampFormat is prepended to logs written by timestamped sinks.
const timestampFormat = "2006-01-02T15:04:05.000000Z "

// SinkLogger is a Logger that writes logs at or above a minimum level to an
// io.Writer, one log per line.
//
// All writes to the underlying writer are synchronized.
type SinkLogger struct {
	level     Level
	timestamp bool

	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewSinkLogger creates a new SinkLogger.
//
// level specifies the minimum level of logs written to w. If timestamp is
// true, a UTC timestamp is prepended to each log.
func NewSinkLogger(level Level, timestamp bool, w io.Writer) *SinkLogger {
	return &SinkLogger{level: level, timestamp: timestamp, w: w}
}

// Log writes a log to the underlying writer.
func (l *SinkLogger) Log(level Level, ts time.Time, msg string) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = l.buf[:0]
	if l.timestamp {
		l.buf = ts.UTC().AppendFormat(l.buf, timestampFormat)
	}
	l.buf = append(l.buf, msg...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		l.buf = append(l.buf, '\n')
	}
	l.w.Write(l.buf)
}
