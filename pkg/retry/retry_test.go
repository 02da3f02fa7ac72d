package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsFatal(err))
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	var retried []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("still failing")
	}, func(attempt int, err error, nextDelay time.Duration) {
		retried = append(retried, attempt)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestFailureBackoff(t *testing.T) {
	b := FailureBackoff(10*time.Millisecond, 40*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())

	zero := FailureBackoff(0, time.Second)
	assert.Equal(t, time.Duration(0), zero.NextBackOff())
	assert.NotEqual(t, backoff.Stop, zero.NextBackOff())
}

func TestRetry_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastPolicy(10), func() error {
		calls++
		cancel()
		return errors.New("sheet unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("timeout")))
	assert.Nil(t, NewFatalError(nil))

	wrapped := fmt.Errorf("deliver entry: %w", NewFatalError(errors.New("403")))
	assert.True(t, IsFatal(wrapped))
	assert.EqualError(t, wrapped, "deliver entry: 403")
}
