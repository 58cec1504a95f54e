// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logcat

import (
	"regexp"
)

// Level is the severity letter of a logcat message, such as 'I' or 'E'.
// Unknown is used before any classified line has been seen.
type Level byte

// Levels emitted by logcat.
const (
	Unknown Level = 0
	Verbose Level = 'V'
	Debug   Level = 'D'
	Info    Level = 'I'
	Warn    Level = 'W'
	Error   Level = 'E'
	Fatal   Level = 'F'
	Assert  Level = 'A'
	Silent  Level = 'S'
)

func (l Level) String() string {
	switch l {
	case Unknown:
		return "unknown"
	case Verbose, Debug, Info, Silent:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Fatal, Assert:
		return "fatal"
	default:
		return string(rune(l))
	}
}

// Severe reports whether messages of this level belong on stderr.
func (l Level) Severe() bool {
	switch l {
	case Warn, Error, Fatal, Assert:
		return true
	}
	return false
}

// Line is one physical line of logcat output in "tag" format.
type Line struct {
	Level Level
	// Message is the text after the level letter and slash, or the whole
	// line for a continuation.
	Message string
	// Raw is the physical line as read.
	Raw string
	// Continuation is true if the line did not carry its own level.
	Continuation bool
}

var lineRE = regexp.MustCompile(`(?s)^([A-Z])/(.*)$`)

// Parse classifies raw. A line without a level prefix continues the previous
// message and inherits prev.
func Parse(raw string, prev Level) Line {
	if m := lineRE.FindStringSubmatch(raw); m != nil {
		return Line{Level: Level(m[1][0]), Message: m[2], Raw: raw}
	}
	return Line{Level: prev, Message: raw, Raw: raw, Continuation: true}
}
