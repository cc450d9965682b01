// Package errors provides error handling for Inlet.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrPipelineNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Common sentinel errors for use across Inlet.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidInput indicates the request or configuration was malformed
	ErrInvalidInput = New("invalid input")

	// ErrPipelineNotFound indicates the referenced ingestion pipeline does not exist
	ErrPipelineNotFound = New("pipeline not found")

	// ErrPipelineDisabled indicates the pipeline exists but is not enabled
	ErrPipelineDisabled = New("pipeline disabled")

	// ErrWrongPipelineMode indicates an operation is valid only for the other pipeline mode
	ErrWrongPipelineMode = New("wrong pipeline mode")

	// ErrInvalidWebhookSecret indicates the caller's webhook secret did not match
	ErrInvalidWebhookSecret = New("invalid webhook secret")

	// ErrRateLimited indicates the per-pipeline webhook rate limit was exceeded
	ErrRateLimited = New("rate limit exceeded")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound or ErrPipelineNotFound.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrNotFound) || Is(err, ErrPipelineNotFound)
}

// IsInvalidInputError checks if an error is or wraps ErrInvalidInput
func IsInvalidInputError(err error) bool {
	return err != nil && Is(err, ErrInvalidInput)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidInputError creates an invalid-input error with a formatted message
func NewInvalidInputError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidInput, Newf(format, args...).Error())
}
