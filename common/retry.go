package common

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	defaultRetryCount        = 10
	defaultRetryWaitTime     = time.Millisecond * 500
	defaultMaxRetryWaitTime  = time.Second * 30
	defaultBackoffMultiplier = 2.0
)

var (
	ErrRetryTimeout  = errors.New("timeout")
	ErrRetryTryAgain = errors.New("retry try again")
	defaultLogger    = hclog.NewNullLogger()
)

// RetryConfig defines ExecuteWithRetry configuration
type RetryConfig struct {
	retryCount        int
	retryWaitTime     time.Duration
	maxRetryWaitTime  time.Duration
	backoffMultiplier float64
	isRetryableError  func(err error) bool
	logger            hclog.Logger
}

// RetryConfigOption defines ExecuteWithRetry configuration option
type RetryConfigOption func(c *RetryConfig)

func WithRetryCount(retryCount int) RetryConfigOption {
	return func(c *RetryConfig) {
		c.retryCount = retryCount
	}
}

// WithRetryWaitTime sets the wait time before the second attempt.
func WithRetryWaitTime(retryWaitTime time.Duration) RetryConfigOption {
	return func(c *RetryConfig) {
		c.retryWaitTime = retryWaitTime
	}
}

// WithMaxRetryWaitTime caps the exponentially growing wait time.
func WithMaxRetryWaitTime(maxRetryWaitTime time.Duration) RetryConfigOption {
	return func(c *RetryConfig) {
		c.maxRetryWaitTime = maxRetryWaitTime
	}
}

func WithBackoffMultiplier(multiplier float64) RetryConfigOption {
	return func(c *RetryConfig) {
		c.backoffMultiplier = multiplier
	}
}

func WithIsRetryableError(fn func(err error) bool) RetryConfigOption {
	return func(c *RetryConfig) {
		c.isRetryableError = fn
	}
}

func WithLogger(logger hclog.Logger) RetryConfigOption {
	return func(c *RetryConfig) {
		c.logger = logger
	}
}

// ExecuteWithRetry executes handler until it succeeds, returns a non-retryable error,
// the context is done or the retry budget is spent. The wait between attempts grows
// exponentially up to the configured maximum.
func ExecuteWithRetry[T any](
	ctx context.Context, handler func(context.Context) (T, error), options ...RetryConfigOption,
) (result T, err error) {
	config := RetryConfig{
		retryCount:        defaultRetryCount,
		retryWaitTime:     defaultRetryWaitTime,
		maxRetryWaitTime:  defaultMaxRetryWaitTime,
		backoffMultiplier: defaultBackoffMultiplier,
		isRetryableError:  isRetryableErrorDefault,
		logger:            defaultLogger,
	}

	for _, opt := range options {
		opt(&config)
	}

	for count := 0; count < config.retryCount; count++ {
		result, err = handler(ctx)
		if err == nil {
			return result, nil
		} else if !config.isRetryableError(err) {
			return result, err
		}

		if count+1 == config.retryCount {
			break
		}

		waitTime := BackoffDelay(count, config.retryWaitTime, config.maxRetryWaitTime, config.backoffMultiplier)

		config.logger.Info("ExecuteWithRetry failed. Retrying...", "time", count+1, "wait", waitTime, "err", err)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return result, errors.Join(ErrRetryTimeout, err)
}

// BackoffDelay returns initial * multiplier^attempt bounded by maxDelay.
func BackoffDelay(attempt int, initial, maxDelay time.Duration, multiplier float64) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(initial)

	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if maxDelay > 0 && delay >= float64(maxDelay) {
			return maxDelay
		}
	}

	if maxDelay > 0 && time.Duration(delay) > maxDelay {
		return maxDelay
	}

	return time.Duration(delay)
}

// IsContextDoneErr returns true if the error is due to the context being cancelled
// or expired. This is useful for determining if a function should retry.
func IsContextDoneErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isRetryableErrorDefault(err error) bool {
	return !IsContextDoneErr(err)
}
