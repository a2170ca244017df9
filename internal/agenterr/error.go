// Package agenterr provides the structured error taxonomy shared by every
// runtime component. Errors preserve causal chains for errors.Is/errors.As
// while remaining serializable for transport to HTTP/WS clients.
package agenterr

import "fmt"

// Kind classifies an error into one of the taxonomy buckets used across all
// components to decide HTTP status codes and retry behavior.
type Kind string

const (
	// NotFound indicates an unknown stream, schedule, run, or instance.
	NotFound Kind = "notFound"
	// InvalidRequest indicates malformed input (bad JSON, missing fields).
	InvalidRequest Kind = "invalidRequest"
	// Conflict indicates a duplicate init or a duplicate tool name across middleware.
	Conflict Kind = "conflict"
	// ReadonlyViolation indicates a state write attempted from a readonly connection.
	ReadonlyViolation Kind = "readonlyViolation"
	// InvalidApproval indicates an approve call without a run/pending calls, or an
	// unknown sub-agent waiter token.
	InvalidApproval Kind = "invalidApproval"
	// Timeout indicates a task deadline was exceeded.
	Timeout Kind = "timeout"
	// ProviderError indicates an LLM provider HTTP/transport failure.
	ProviderError Kind = "providerError"
	// Overloaded indicates resource pressure from the runtime itself; never retryable.
	Overloaded Kind = "overloaded"
	// Transient indicates a failure retryable per jittered backoff.
	Transient Kind = "transient"
	// Internal indicates an unexpected internal failure.
	Internal Kind = "internal"
)

// Error is the structured error type returned by runtime components. It
// wraps an optional Cause so errors.Is/errors.As traverse the full chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf formats a message and constructs an Error of the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, supporting errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, agenterr.New(agenterr.NotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the error's kind is retryable per the taxonomy:
// Transient errors are retryable, Overloaded errors are explicitly not.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == Transient
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Internal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

// as is a small local errors.As to avoid importing "errors" solely for this
// one call site in multiple files; kept here for reuse.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
