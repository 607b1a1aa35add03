// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imgacts

import (
	"github.com/pkg/errors"
)

var (
	// ErrShapeViolation is returned (wrapped) when the parameters or buffers violate a precondition.
	// It is always returned before any computation: targets are left untouched.
	ErrShapeViolation = errors.New("shape violation")

	// ErrExecutionFailure is returned (wrapped) when the kernel launch fails. The contents of the
	// targets are undefined in this case.
	ErrExecutionFailure = errors.New("execution failure")
)

// kindError attaches one of the sentinel errors above to its cause, so callers can use errors.Is on the
// kind and still get the full cause (and its stack) when printing with "%+v".
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

// Is implements the interface used by errors.Is.
func (e *kindError) Is(target error) bool { return target == e.kind }

// Unwrap returns the cause.
func (e *kindError) Unwrap() error { return e.cause }

func shapeViolationf(format string, args ...any) error {
	return &kindError{kind: ErrShapeViolation, cause: errors.Errorf(format, args...)}
}

func asShapeViolation(err error) error {
	return &kindError{kind: ErrShapeViolation, cause: err}
}

func asExecutionFailure(err error) error {
	return &kindError{kind: ErrExecutionFailure, cause: err}
}
