// Package apierr defines the single error taxonomy shared by every
// component of the gateway, from the Redis adapter up through the HTTP
// handlers. Components never write http.Error directly; they return an
// *apierr.Error and let the handler layer map it to a status code.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is the closed set of error categories the gateway can surface to a
// caller. Every Kind maps to exactly one HTTP status in StatusFor.
type Kind int

const (
	// KindInternal covers backend transport failures and anything
	// unexpected; the HTTP layer logs it at error level.
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindStreamNotFound
	KindExistingStream
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindStreamNotFound:
		return "stream_not_found"
	case KindExistingStream:
		return "existing_stream"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Error is the error type every package in this module returns for
// caller-visible failures. It carries a Kind for HTTP mapping, a
// human-readable Message, and optionally wraps a lower-level cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that wraps a lower-level cause, preserving it
// for logging via errors.Unwrap/errors.Is while keeping the message shown
// to callers independent of the cause's text.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Internal wraps an unexpected error as KindInternal, the default for any
// backend failure that doesn't fit a more specific kind.
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// As extracts an *Error from err, matching errors.As semantics.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// StatusFor maps a Kind to the HTTP status this gateway returns for it.
func StatusFor(k Kind) int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindStreamNotFound:
		return http.StatusNotFound
	case KindExistingStream:
		return http.StatusBadRequest
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
