// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolerr classifies skill-handler errors so that MCP clients
// can make programmatic decisions (retry, fix input, escalate) without
// parsing error message text.
package toolerr

import (
	"context"
	"errors"
	"fmt"
)

// Category classifies an error for the MCP errorInfo extension.
type Category string

const (
	// Validation indicates the caller provided invalid input: missing
	// required parameters, wrong type, unparseable values. The caller
	// should fix the input and retry.
	Validation Category = "validation"

	// NotFound indicates a referenced resource does not exist: unknown
	// session ID, missing file, unresolved task. Retrying with the same
	// parameters will not help.
	NotFound Category = "not_found"

	// Forbidden indicates the caller lacks permission for the requested
	// operation, or the call targets a path or command outside its
	// allowed set.
	Forbidden Category = "forbidden"

	// Conflict indicates the operation conflicts with existing state:
	// duplicate task name, concurrent session modification.
	Conflict Category = "conflict"

	// Transient indicates a temporary failure: network error, timeout,
	// rate limit. The caller should back off and retry.
	Transient Category = "transient"

	// Internal indicates an unexpected error: bugs, I/O failures, parse
	// errors on data the system produced itself.
	Internal Category = "internal"
)

// Error is a categorized error returned by skill handlers. The jsonrpc
// layer inspects Category to populate the response's errorInfo
// extension alongside the human-readable text content block.
//
// Error wraps an inner error, preserving the full chain for errors.Is
// and errors.As while adding category metadata. Use the category
// constructors (Validationf, NotFoundf, etc.) rather than constructing
// Error directly.
type Error struct {
	Category Category
	Err      error
}

// Error returns the underlying message. The category travels
// separately via errorInfo, not in the text.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap allows errors.Is and errors.As to see through the wrapper.
func (e *Error) Unwrap() error { return e.Err }

// Validationf creates a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Category: Validation, Err: fmt.Errorf(format, args...)}
}

// NotFoundf creates a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Category: NotFound, Err: fmt.Errorf(format, args...)}
}

// Forbiddenf creates a forbidden error.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{Category: Forbidden, Err: fmt.Errorf(format, args...)}
}

// Conflictf creates a conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Category: Conflict, Err: fmt.Errorf(format, args...)}
}

// Transientf creates a transient error.
func Transientf(format string, args ...any) *Error {
	return &Error{Category: Transient, Err: fmt.Errorf(format, args...)}
}

// Internalf creates an internal error.
func Internalf(format string, args ...any) *Error {
	return &Error{Category: Internal, Err: fmt.Errorf(format, args...)}
}

// Classify extracts a category and retryability from err. It checks
// for *Error first, then falls back to context errors, then defaults
// to internal/non-retryable for anything else.
func Classify(err error) (category Category, retryable bool) {
	var toolErr *Error
	if errors.As(err, &toolErr) {
		return toolErr.Category, toolErr.Category == Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient, true
	}
	return Internal, false
}
