// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors provides basic utilities to construct errors.
//
// To construct new errors or wrap other errors, use this package rather than
// the standard errors package or fmt.Errorf. This package records where each
// error was created so that a failed run can print a useful trace.
//
// To construct a new error, use New or Errorf.
//
//	errors.New("no device found")
//	errors.Errorf("found %d new devices", n)
//
// To add context to an existing error, use Wrap or Wrapf.
//
//	errors.Wrap(err, "failed to list devices")
//	errors.Wrapf(err, "failed to find pid on %s", serial)
//
// Formatting an error with the "%+v" verb prints the whole chain together with
// the recorded call sites.
package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// E is the error implementation used by this package.
type E struct {
	msg   string // message to be prepended to cause
	stk   stack  // call site where this error was created
	cause error  // error that caused this error if non-nil
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap returns the error wrapped by e, if any.
func (e *E) Unwrap() error {
	return e.cause
}

// formatChain formats an error chain with call sites.
func formatChain(err error) string {
	var chain []string
	for err != nil {
		e, ok := err.(*E)
		if !ok {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			break
		}
		chain = append(chain, fmt.Sprintf("%s\n%v", e.msg, e.stk))
		err = e.cause
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter. The "%+v" verb prints the error chain.
func (e *E) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
	} else {
		io.WriteString(s, e.Error())
	}
}

// New creates a new error with the given message, recording the call site.
func New(msg string) error {
	return &E{msg, newStack(1), nil}
}

// Errorf creates a new error with a formatted message, recording the call site.
func Errorf(format string, args ...interface{}) error {
	return &E{fmt.Sprintf(format, args...), newStack(1), nil}
}

// Wrap creates a new error with the given message, wrapping cause.
// If cause is nil, this is the same as New.
func Wrap(cause error, msg string) error {
	return &E{msg, newStack(1), cause}
}

// Wrapf creates a new error with a formatted message, wrapping cause.
// If cause is nil, this is the same as Errorf.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &E{fmt.Sprintf(format, args...), newStack(1), cause}
}

// Is is the same as the standard errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is the same as the standard errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap is the same as the standard errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
