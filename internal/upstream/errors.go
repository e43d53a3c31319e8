// Package upstream holds what every outbound client shares: the error
// taxonomy, HTTP response classification, and the throttled retry caller.
package upstream

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindRateLimit       Kind = "rate_limit"
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindInvalidResponse Kind = "invalid_response"
)

// Sentinels matched with errors.Is against any *Error of the same kind.
var (
	ErrRateLimited     = errors.New("upstream rate limited")
	ErrNetwork         = errors.New("upstream network failure")
	ErrTimeout         = errors.New("upstream request timed out")
	ErrInvalidResponse = errors.New("upstream invalid response")

	// ErrNotFound means the upstream has no record for the requested key.
	// Clients translate it into an absent result; it is not a failure.
	ErrNotFound = errors.New("upstream record not found")
)

// Error is a classified upstream failure.
type Error struct {
	Kind       Kind
	Service    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var msg string
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %s (%d)", e.Service, e.Kind, e.StatusCode)
	} else {
		msg = fmt.Sprintf("%s %s", e.Service, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	out := []error{sentinelFor(e.Kind)}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func sentinelFor(k Kind) error {
	switch k {
	case KindRateLimit:
		return ErrRateLimited
	case KindNetwork:
		return ErrNetwork
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrInvalidResponse
	}
}

// KindOf extracts the classification of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return "", false
}

// Invalid wraps a decode or validation failure.
func Invalid(service string, err error) error {
	return &Error{Kind: KindInvalidResponse, Service: service, Err: err}
}
