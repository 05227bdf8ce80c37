// Package apierr is the HTTP-facing error model used across the
// service layer (§7): every service-level failure is tagged with a
// Kind so the HTTP layer can map it to a status code the same way
// everywhere, instead of each handler guessing from an error string.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the purpose of HTTP status mapping.
type Kind string

const (
	// KindValidation covers malformed or semantically invalid input:
	// wrong vector dimension, unknown index kind, missing required
	// field. Maps to 400.
	KindValidation Kind = "validation"

	// KindNotFound covers a missing library, document, chunk, or
	// index. Maps to 404.
	KindNotFound Kind = "not_found"

	// KindDependencyFailure covers failures in storage, the embedding
	// provider, or any other external dependency. Maps to 500 since
	// the caller's request was well-formed.
	KindDependencyFailure Kind = "dependency_failure"

	// KindInvariantViolation covers a violated internal invariant —
	// a bug, not a caller mistake. Maps to 500.
	KindInvariantViolation Kind = "invariant_violation"
)

// Error is the structured error type returned by every service-layer
// operation that can fail in a way the HTTP layer must report.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error carrying cause as its wrapped error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation is a convenience constructor for the common case of a
// malformed or invalid request.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound is a convenience constructor for a missing resource.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// StatusCode maps err's Kind to an HTTP status. Errors that aren't
// *Error map to 500, since they weren't anticipated by the service
// layer's error model.
func StatusCode(err error) int {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDependencyFailure, KindInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As is a small convenience wrapper over errors.As for extracting the
// *Error from an error chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
