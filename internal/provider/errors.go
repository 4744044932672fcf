package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindServer    ErrorKind = "server"
	KindInvalid   ErrorKind = "invalid_request"
	KindCancelled ErrorKind = "cancelled"
)

// Error is a failure of the model dispatch adapter.
type Error struct {
	Provider  string
	Kind      ErrorKind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error with retryability derived from its kind.
func NewError(provider string, kind ErrorKind, message string) *Error {
	return &Error{
		Provider:  provider,
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindNetwork || kind == KindRateLimit || kind == KindServer,
	}
}

// IsRetryable reports whether err is a retryable adapter error.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// AsError wraps any failure as an *Error, leaving existing ones intact.
func AsError(provider string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: provider, Kind: KindCancelled, Message: "request cancelled", Cause: err}
	}
	return &Error{Provider: provider, Kind: KindNetwork, Message: "request failed", Cause: err}
}
