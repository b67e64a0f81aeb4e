package upstream

import (
	"context"
	"math/rand"
	"time"
)

// retryConfig shapes the exponential backoff applied to upstream calls:
// base 100ms, factor 2, jitter ±25%, max 3 tries.
type retryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// withRetry runs fn up to cfg.MaxAttempts times, retrying only on errors
// that are not already a terminal *Error (bad responses and explicit
// rate-limit signals are not retried; they're surfaced immediately).
func withRetry[T any](ctx context.Context, cfg retryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg.BaseDelay, attempt)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt-1; i++ {
		d *= 2
	}
	jitter := 1 + (rand.Float64()*0.5 - 0.25) // ±25%
	return time.Duration(float64(d) * jitter)
}

func retryable(err error) bool {
	apiErr, ok := err.(*Error)
	if !ok {
		// Transport-level errors (timeouts, connection resets) are retried.
		return true
	}
	return apiErr.Kind == ErrUnavailable
}
