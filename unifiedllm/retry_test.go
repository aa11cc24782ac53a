package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func serverError() error {
	return ErrorFromStatusCode(503, "overloaded", "test", "", nil)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 300 * time.Millisecond},
		{2, 900 * time.Millisecond},
		{3, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "Backoff(%d)", tt.attempt)
	}
}

func TestRetryPolicyJitterRange(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 200; i++ {
		got := p.Backoff(1)
		require.GreaterOrEqual(t, got, time.Second)
		require.Less(t, got, 3*time.Second)
	}
}

func TestRetryOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		failures  int
		err       func() error
		wantCalls int
		wantErr   bool
	}{
		{"first try", 2, 0, serverError, 1, false},
		{"recovers", 3, 2, serverError, 3, false},
		{"exhausted", 2, 10, serverError, 3, true},
		{"auth not retried", 3, 10, func() error { return ErrorFromStatusCode(401, "bad key", "test", "", nil) }, 1, true},
		{"malformed not retried", 3, 10, func() error { return NewMalformedResponseError("test", "empty") }, 1, true},
		{"network retried", 1, 1, func() error { return NewNetworkError("test", errors.New("reset")) }, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), fastPolicy(tt.retries), func(ctx context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err()
				}
				return "ok", nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func TestRetryCancelledWhileWaiting(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", NewNetworkError("test", errors.New("reset"))
	})
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, 1, calls, "a single attempt before cancellation")
}

func TestRetryAfterHint(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Multiplier: 1}
	after := 0.02

	var waits []time.Duration
	policy.OnRetry = func(err error, attempt int, delay time.Duration) { waits = append(waits, delay) }
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", ErrorFromStatusCode(429, "slow down", "test", "", &after)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, waits)
}

func TestRetryAfterBeyondMaxDelayGivesUp(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 1}
	after := 120.0

	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", ErrorFromStatusCode(429, "slow down", "test", "", &after)
	})
	require.Equal(t, KindRateLimit, Kind(err), "got %v", err)
	assert.Equal(t, 1, calls, "no retry")
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.True(t, p.Jitter)
}
