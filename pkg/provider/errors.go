package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed provider call.
type ErrorKind int

const (
	// Transient failures (timeouts, 5xx, connection errors) are retried locally.
	Transient ErrorKind = iota
	// QuotaExceeded rotates the credential.
	QuotaExceeded
	// Permanent is a 4xx other than the quota statuses. It counts against the breaker.
	Permanent
	// Malformed is a 2xx whose body does not match the expected shape.
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case QuotaExceeded:
		return "quota_exceeded"
	case Permanent:
		return "permanent"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by adapters.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a provider error. Context errors and network
// errors that were not classified by an adapter count as transient; anything
// else is permanent.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient
	}
	return Permanent
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// IsTransient reports whether err should be retried against the same provider.
func IsTransient(err error) bool { return KindOf(err) == Transient }

// IsQuota reports whether err means the credential's quota is spent.
func IsQuota(err error) bool { return KindOf(err) == QuotaExceeded }
