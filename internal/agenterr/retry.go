package agenterr

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryOptions configures tryN's jittered exponential backoff.
type RetryOptions struct {
	// BaseDelay scales the backoff: retry k (1-based) waits at most
	// BaseDelay·2^k. Zero means 100ms.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// IsRetryable classifies whether a given error should be retried. When
	// nil, errors implementing Retryable() bool are consulted, defaulting to
	// non-retryable.
	IsRetryable func(error) bool
}

// TryN is the canonical retry primitive: it invokes fn up to n times,
// applying half-jitter exponential backoff between attempts, and stops early
// when the error is classified non-retryable. It returns the last error if
// every attempt fails.
//
// Backoff: delay ∈ [0, min(maxDelay, baseDelay·2^attempt)], i.e. half-jitter.
func TryN(ctx context.Context, n int, fn func(ctx context.Context) error, opts RetryOptions) error {
	if n < 1 {
		n = 1
	}
	isRetryable := opts.IsRetryable
	if isRetryable == nil {
		isRetryable = func(err error) bool {
			type retryabler interface{ Retryable() bool }
			if r, ok := err.(retryabler); ok {
				return r.Retryable()
			}
			return false
		}
	}
	var lastErr error
	for attempt := 0; attempt < n; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, opts.BaseDelay, opts.MaxDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

// backoffDelay computes a half-jittered exponential backoff delay for the
// given attempt index (1-based: the first retry uses attempt=1).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	raw := float64(base) * math.Pow(2, float64(attempt))
	if raw > float64(max) {
		raw = float64(max)
	}
	return time.Duration(rand.Int63n(int64(raw) + 1))
}
