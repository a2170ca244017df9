package tools

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewErrorDefaultsEmptyMessage(t *testing.T) {
	err := NewError("", RetryBackoff)
	require.Equal(t, "tool error", err.Error())
	require.Equal(t, RetryBackoff, err.Hint)
}

func TestWrapPreservesExistingToolError(t *testing.T) {
	inner := NewError("rate limited", RetryBackoff)
	wrapped := Wrap(inner, RetryNone)
	require.Same(t, inner, wrapped)
	require.Equal(t, RetryBackoff, wrapped.Hint)
}

func TestWrapConvertsPlainErrorWithHint(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), RetryImmediate)
	require.Equal(t, "boom", err.Error())
	require.Equal(t, RetryImmediate, err.Hint)
}

func TestWrapNilReturnsNil(t *testing.T) {
	require.Nil(t, Wrap(nil, RetryNone))
}

func TestErrorUnwrapsCauseChain(t *testing.T) {
	cause := NewError("inner", RetryNone)
	outer := &Error{Message: "outer", Hint: RetryNone, Cause: cause}

	require.True(t, errors.Is(outer, cause))
}
