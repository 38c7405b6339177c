package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConnectivityErrorClassifiesTransientNetworkErrors(t *testing.T) {
	assert.True(t, isConnectivityError(errors.New("dial tcp: connection refused")))
	assert.True(t, isConnectivityError(context.DeadlineExceeded))
	assert.False(t, isConnectivityError(errors.New("duplicate key value violates unique constraint")))
	assert.False(t, isConnectivityError(nil))
}

func TestBackoffPolicyDoublesUpToMax(t *testing.T) {
	p := backoffPolicy{base: 100 * time.Millisecond, max: 1 * time.Second, maxAttempts: 10}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, 1*time.Second, p.delay(10)) // clamped
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), backoffPolicy{base: time.Millisecond, max: 10 * time.Millisecond, maxAttempts: 5}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryDoesNotRetryLogicalErrors(t *testing.T) {
	attempts := 0
	logicalErr := errors.New("insufficient cash")
	err := withRetry(context.Background(), backoffPolicy{base: time.Millisecond, max: time.Millisecond, maxAttempts: 5}, func(ctx context.Context) error {
		attempts++
		return logicalErr
	})
	assert.Equal(t, logicalErr, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetrySurfacesAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), backoffPolicy{base: time.Millisecond, max: time.Millisecond, maxAttempts: 3}, func(ctx context.Context) error {
		attempts++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
