package tools

import "errors"

// Error is a structured tool failure that preserves a retry hint and a
// causal chain, mirroring the teacher's toolerrors.ToolError shape but
// extended with RetryHint so the Agent Loop can decide whether to retry a
// failed tool call without re-invoking the model.
type Error struct {
	Message string
	Hint    RetryHint
	Cause   *Error
}

// NewError constructs an Error with the given message and retry hint.
func NewError(message string, hint RetryHint) *Error {
	if message == "" {
		message = "tool error"
	}
	return &Error{Message: message, Hint: hint}
}

// Wrap converts an arbitrary error into an Error chain carrying hint. If err
// already is or wraps a *Error, that *Error is returned unchanged with its
// own hint; causes further down the chain are wrapped with RetryNone.
func Wrap(err error, hint RetryHint) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Message: err.Error(), Hint: hint, Cause: wrapCause(errors.Unwrap(err))}
}

func wrapCause(err error) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, RetryNone)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As across the tool error chain.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
