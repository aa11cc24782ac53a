package unifiedllm

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy retries retryable provider errors with capped exponential
// backoff. A Retry-After hint from the provider replaces the computed delay;
// a hint longer than MaxDelay ends the retries instead.
type RetryPolicy struct {
	MaxRetries int // attempts after the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool // scale each delay by a random factor in [0.5, 1.5)

	// OnRetry, when set, is called before each wait.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Backoff is the wait before retry number attempt (0-based), ignoring any
// provider hint.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt && d < float64(p.MaxDelay); i++ {
		d *= p.Multiplier
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// next decides whether err earns another attempt and how long to wait.
func (p RetryPolicy) next(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.MaxRetries || !IsRetryable(err) {
		return 0, false
	}
	if pe, ok := AsProviderError(err); ok && pe.RetryAfter != nil {
		hint := time.Duration(*pe.RetryAfter * float64(time.Second))
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return 0, false
		}
		return hint, true
	}
	return p.Backoff(attempt), true
}

// Retry calls fn until it succeeds, the error is not retryable, the policy
// is exhausted or ctx ends. Cancellation while waiting is an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		delay, again := policy.next(err, attempt)
		if !again {
			return result, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		} else {
			slog.Debug("retrying provider call", "attempt", attempt+1, "delay", delay, "error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled while waiting to retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
