package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient failure %d", attempts)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		attempts++
		return fmt.Errorf("always failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryFatalErrorStopsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		attempts++
		return NewFatalError(fmt.Errorf("unrecoverable"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Retry(ctx, fastPolicy(10), func() error {
		attempts++
		cancel()
		return fmt.Errorf("failing under cancellation")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}

func TestRetryCallbackReportsAttempts(t *testing.T) {
	var seen []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return fmt.Errorf("always failing")
	}, func(attempt int, err error, nextDelay time.Duration) {
		seen = append(seen, attempt)
		assert.Positive(t, nextDelay)
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestPolicyNextDelayCapsAtMaxInterval(t *testing.T) {
	p := fastPolicy(5)

	assert.Equal(t, 2*time.Millisecond, p.nextDelay(1))
	assert.Equal(t, 4*time.Millisecond, p.nextDelay(2))
	assert.Equal(t, p.MaxInterval, p.nextDelay(10))
}
