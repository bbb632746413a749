package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure. The router decides between retry,
// failover and immediate return based on the kind.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindTimeout
	KindUnavailable
	KindInvalidInput
	KindInvalidResponse
	KindCollectionNotFound
	KindDimensionMismatch
)

// Sentinel errors, one per kind, so callers can use errors.Is against a *Error.
var (
	ErrRateLimited        = errors.New("provider rate limited")
	ErrTimeout            = errors.New("provider timeout")
	ErrUnavailable        = errors.New("provider unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidResponse    = errors.New("invalid provider response")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidResponse:
		return "invalid_response"
	case KindCollectionNotFound:
		return "collection_not_found"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindTimeout:
		return ErrTimeout
	case KindUnavailable:
		return ErrUnavailable
	case KindInvalidInput:
		return ErrInvalidInput
	case KindInvalidResponse:
		return ErrInvalidResponse
	case KindCollectionNotFound:
		return ErrCollectionNotFound
	case KindDimensionMismatch:
		return ErrDimensionMismatch
	default:
		return nil
	}
}

// Transient reports whether a failure of this kind is worth retrying on the
// same provider.
func (k ErrorKind) Transient() bool {
	return k == KindRateLimited || k == KindTimeout
}

// Error is a classified failure returned by a provider.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

// NewError wraps err with a kind and the name of the provider that produced it.
func NewError(kind ErrorKind, providerName string, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, providerName, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: providerName, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Transient reports whether the error is retryable on the same provider.
func (e *Error) Transient() bool { return e.Kind.Transient() }

// KindOf classifies an arbitrary error. Deadline errors are timeouts; errors
// that carry no classification are reported as KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried on the same provider.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// IsInvalidInput reports whether err was caused by the caller rather than the
// provider.
func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}
