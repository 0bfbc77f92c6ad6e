package api

import (
	"errors"
	"fmt"
)

var (
	ErrConfig           = errors.New("invalid client configuration")
	ErrNetwork          = errors.New("network error")
	ErrTimeout          = errors.New("request timed out")
	ErrRateLimited      = errors.New("rate limited")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrStatus           = errors.New("unexpected status")
)

// Error describes a failed call. Kind is one of the sentinels above; Err is
// the underlying cause (for ErrRetriesExhausted, the last attempt's *Error).
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// retryable reports whether another attempt may succeed: transport
// failures, timeouts, 429 and 5xx answers.
func (e *Error) retryable() bool {
	switch e.Kind {
	case ErrNetwork, ErrTimeout:
		return true
	case ErrRateLimited:
		return e.StatusCode == 429
	case ErrStatus:
		return e.StatusCode >= 500
	}
	return false
}

func outcome(kind error) string {
	switch kind {
	case nil:
		return "ok"
	case ErrNetwork:
		return "network"
	case ErrTimeout:
		return "timeout"
	case ErrRateLimited:
		return "rate_limited"
	default:
		return "status"
	}
}
