package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/stackwatch/stackwatch/pkg/errors"
	"github.com/stackwatch/stackwatch/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first failure, so a
	// call is attempted at most MaxRetries+1 times
	MaxRetries int
	// BaseDelay is the backoff base: the delay before retry n (0-indexed)
	// is min(BaseDelay*2^n + jitter, MaxDelay)
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay
	MaxDelay time.Duration
	// Retryable classifies whether an error is worth re-attempting
	Retryable func(error) bool
	// OnRetry is called before each re-attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Retryable:  DefaultRetryable,
	}
}

// DefaultRetryable is the default retryability classifier. Breaker
// rejections are never retried: the breaker has already decided the
// upstream service should be left alone. Everything else follows the
// transient/permanent error taxonomy, with unclassified errors defaulting
// to retryable.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsBreakerOpen(err) {
		return false
	}
	return errors.IsRetryable(err)
}

// Retrier absorbs transient failures with bounded, backoff-delayed
// re-attempts while failing fast on permanent errors
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Retryable == nil {
		config.Retryable = DefaultRetryable
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs the operation, re-attempting transient failures up to the
// configured maximum. The final attempt's original error is returned
// unwrapped so callers see the real failure cause.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt+1,
				)
			}
			return nil
		}

		lastErr = err

		if !r.config.Retryable(err) {
			r.logger.Debug("Error is not retryable, surfacing immediately",
				"error", err.Error(),
				"attempt", attempt+1,
			)
			return err
		}

		if attempt >= r.config.MaxRetries {
			break
		}

		delay := r.backoffDelay(attempt)

		r.logger.Warn("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt+1,
			"max_retries", r.config.MaxRetries,
			"delay", delay.String(),
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxRetries+1,
	)

	return lastErr
}

// ExecuteWithResult runs the operation with retry logic and returns its result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// backoffDelay computes min(base*2^n + jitter(0..1s), maxDelay) for the
// 0-indexed retry n
func (r *Retrier) backoffDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(2, float64(attempt))
	delay += rand.Float64() * float64(time.Second)

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	return time.Duration(delay)
}

// Retry is a convenience function to execute an operation with the given
// configuration
func Retry(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operation)
}
