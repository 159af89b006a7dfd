// Package apperrors defines the control plane's error taxonomy: a small,
// closed set of machine-readable kinds that every component surfaces
// instead of ad-hoc error strings.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the eight error kinds every component surfaces.
type Kind string

const (
	InvalidRequest      Kind = "invalid_request"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	Unauthorized        Kind = "unauthorized"
	Timeout             Kind = "timeout"
	StorageUnavailable  Kind = "storage_unavailable"
	UpstreamUnavailable Kind = "upstream_unavailable"
	Internal            Kind = "internal"
)

// Retryable reports whether errors of this kind are worth retrying with
// backoff. InvalidRequest/Conflict/NotFound/Unauthorized never are.
func (k Kind) Retryable() bool {
	switch k {
	case Timeout, StorageUnavailable, UpstreamUnavailable:
		return true
	default:
		return false
	}
}

// Error is the concrete error type every public API returns on failure.
type Error struct {
	Kind          Kind
	Message       string
	Cause         error
	CorrelationID string
	RetryAfter    time.Duration
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apperrors.ErrNotFound) work by comparing kinds, not
// identity: callers shouldn't need a pointer to a specific sentinel.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelationID attaches a correlation id and returns the same error for chaining.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithRetryAfter attaches a retry-after hint and returns the same error for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// were not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// sentinel kinds usable directly with errors.Is, e.g. errors.Is(err, apperrors.ErrNotFound).
var (
	ErrNotFound            = &Error{Kind: NotFound}
	ErrConflict            = &Error{Kind: Conflict}
	ErrInvalidRequest      = &Error{Kind: InvalidRequest}
	ErrUnauthorized        = &Error{Kind: Unauthorized}
	ErrTimeout             = &Error{Kind: Timeout}
	ErrStorageUnavailable  = &Error{Kind: StorageUnavailable}
	ErrUpstreamUnavailable = &Error{Kind: UpstreamUnavailable}
	ErrInternal            = &Error{Kind: Internal}
)
