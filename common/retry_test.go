package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteWithRetry(t *testing.T) {
	t.Parallel()

	var (
		errWait  = errors.New("hello wait")
		errFinal = errors.New("final")
		ctx      = context.Background()
	)

	options := []RetryConfigOption{
		WithRetryCount(4),
		WithRetryWaitTime(time.Millisecond),
		WithMaxRetryWaitTime(time.Millisecond * 4),
	}

	t.Run("budget spent", func(t *testing.T) {
		t.Parallel()

		calls := 0

		_, err := ExecuteWithRetry(ctx, func(_ context.Context) (int, error) {
			calls++

			return 0, errWait
		}, options...)

		require.ErrorIs(t, err, ErrRetryTimeout)
		require.ErrorIs(t, err, errWait)
		require.Equal(t, 4, calls)
	})

	t.Run("non retryable", func(t *testing.T) {
		t.Parallel()

		calls := 0

		_, err := ExecuteWithRetry(ctx, func(_ context.Context) (int, error) {
			calls++

			return 0, errFinal
		}, append(options, WithIsRetryableError(func(err error) bool {
			return !errors.Is(err, errFinal)
		}))...)

		require.ErrorIs(t, err, errFinal)
		require.NotErrorIs(t, err, ErrRetryTimeout)
		require.Equal(t, 1, calls)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		ctxWithCancel, cncl := context.WithCancel(ctx)
		cncl()

		_, err := ExecuteWithRetry(ctxWithCancel, func(_ context.Context) (int, error) {
			return 0, errWait
		}, WithRetryCount(3), WithRetryWaitTime(time.Second))

		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("success after failures", func(t *testing.T) {
		t.Parallel()

		calls := 0

		result, err := ExecuteWithRetry(ctx, func(_ context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, ErrRetryTryAgain
			}

			return 8930, nil
		}, options...)

		require.NoError(t, err)
		require.Equal(t, 8930, result)
		require.Equal(t, 3, calls)
	})
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	initial, maxDelay := time.Millisecond*100, time.Second

	require.Equal(t, initial, BackoffDelay(0, initial, maxDelay, 2))
	require.Equal(t, time.Millisecond*200, BackoffDelay(1, initial, maxDelay, 2))
	require.Equal(t, time.Millisecond*800, BackoffDelay(3, initial, maxDelay, 2))
	require.Equal(t, maxDelay, BackoffDelay(4, initial, maxDelay, 2))
	require.Equal(t, maxDelay, BackoffDelay(50, initial, maxDelay, 2))
	require.Equal(t, initial, BackoffDelay(5, initial, maxDelay, 0.5))
}
