package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced by the matching path, the lineage
// store and the session registry.
type ErrorCode string

const (
	// CodeMalformedInput marks a record or candidate that is not a field
	// mapping. Recovered locally; never returned from Match.
	CodeMalformedInput ErrorCode = "MALFORMED_INPUT"

	// CodeTimeoutExceeded marks a persistence or notification operation that
	// was abandoned after its bound. Nothing was applied.
	CodeTimeoutExceeded ErrorCode = "TIMEOUT_EXCEEDED"

	// CodeCapacityExceeded marks a rejected session registration.
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	// CodeNotFound marks a lookup of an unknown strain or session.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidLineage marks a lineage value outside the known vocabulary.
	CodeInvalidLineage ErrorCode = "INVALID_LINEAGE"
)

// Error carries a code plus enough context to log or render the failure.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed (e.g. "set sovereign lineage").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error.
func NewError(code ErrorCode, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTimeout reports whether err is a TIMEOUT_EXCEEDED error.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeoutExceeded }

// IsCapacity reports whether err is a CAPACITY_EXCEEDED error.
func IsCapacity(err error) bool { return CodeOf(err) == CodeCapacityExceeded }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsMalformed reports whether err is a MALFORMED_INPUT error.
func IsMalformed(err error) bool { return CodeOf(err) == CodeMalformedInput }

// IsInvalidLineage reports whether err is an INVALID_LINEAGE error.
func IsInvalidLineage(err error) bool { return CodeOf(err) == CodeInvalidLineage }
