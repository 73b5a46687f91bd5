// Package dErrors provides coded domain errors shared across services.
//
// Stores return sentinel errors (pkg/platform/sentinel) for infrastructure
// facts; services translate those into coded errors here so transport layers
// can map codes to status lines without inspecting error text.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are part of the API surface: add new
// ones freely, never reuse or remove an existing one.
type Code string

const (
	// CodeNotFound covers missing or soft-deleted records.
	CodeNotFound Code = "not_found"
	// CodeIntegrity covers hash mismatches on decrypt and duplicate content
	// on store when deduplication is enforced.
	CodeIntegrity Code = "integrity_violation"
	// CodeUnauthorized covers actors lacking a required capability.
	// Responses built from it must not reveal whether the record exists.
	CodeUnauthorized Code = "unauthorized"
	// CodeConflict covers concurrent-modification version mismatches.
	// Callers may retry the whole read-modify-write cycle.
	CodeConflict Code = "conflict"
	// CodeInvalidTransition covers lifecycle state machine violations.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeTimeout covers external calls exceeding their budget.
	CodeTimeout Code = "timeout"

	CodeInvalidInput Code = "invalid_input"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost coded error, or CodeInternal when
// the error is not coded.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
