package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Config holds the configuration for retry logic
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffMultiple: 2.0,
	}
}

// SingleRetry allows exactly one more attempt after the first failure
func SingleRetry() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.BaseDelay = time.Second
	return cfg
}

// ErrorChecker defines a function that determines if an error should trigger a retry.
// statusCode and responseBody are zero values for calls that are not HTTP requests.
type ErrorChecker func(err error, statusCode int, responseBody []byte) bool

// RetryableFunc defines a function that can be retried
type RetryableFunc[T any] func(attempt int) (result T, statusCode int, responseBody []byte, err error)

// Options configures retry behavior
type Options struct {
	Config       Config
	ErrorChecker ErrorChecker
	Logger       *zap.Logger
	APIName      string
}

// AnyError retries every failure except the caller giving up on the context
func AnyError(ctx context.Context) ErrorChecker {
	return func(err error, _ int, _ []byte) bool {
		return err != nil && ctx.Err() == nil
	}
}

// calculateDelay computes the delay for the given attempt using exponential backoff
func (c Config) calculateDelay(attempt int) time.Duration {
	multiple := c.BackoffMultiple
	if multiple <= 0 {
		multiple = 1
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(multiple, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Execute performs the retryable function with the configured retry logic
func Execute[T any](ctx context.Context, opts Options, fn RetryableFunc[T]) (T, error) {
	var zero T
	var lastErr error
	var lastStatusCode int
	var lastResponseBody []byte

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := opts.Config.MaxRetries + 1

	for attempt := 0; attempt <= opts.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := opts.Config.calculateDelay(attempt - 1)
			logger.Info("retrying request",
				zap.String("api", opts.APIName),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, statusCode, responseBody, err := fn(attempt)
		lastErr = err
		lastStatusCode = statusCode
		lastResponseBody = responseBody

		if opts.ErrorChecker != nil && opts.ErrorChecker(err, statusCode, responseBody) && attempt < opts.Config.MaxRetries {
			if err != nil {
				logger.Warn("retryable error",
					zap.String("api", opts.APIName),
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", maxAttempts),
					zap.Error(err))
			} else {
				logger.Warn("retryable status",
					zap.String("api", opts.APIName),
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", maxAttempts),
					zap.Int("status", statusCode))
			}
			continue
		}

		if err == nil {
			if attempt > 0 {
				logger.Info("request succeeded after retry",
					zap.String("api", opts.APIName),
					zap.Int("attempt", attempt+1))
			}
			return result, nil
		}

		return zero, err
	}

	if lastErr != nil {
		return zero, lastErr
	}

	return zero, &RetryExhaustedError{
		APIName:        opts.APIName,
		MaxAttempts:    maxAttempts,
		LastStatusCode: lastStatusCode,
		LastResponse:   lastResponseBody,
	}
}

// RetryExhaustedError represents an error when all retry attempts have been exhausted
type RetryExhaustedError struct {
	APIName        string
	MaxAttempts    int
	LastStatusCode int
	LastResponse   []byte
}

func (e *RetryExhaustedError) Error() string {
	return "retry attempts exhausted for " + e.APIName + " API"
}
