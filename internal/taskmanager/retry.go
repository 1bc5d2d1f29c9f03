package taskmanager

import (
	"context"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/maxkimambo/revgraph/internal/errors"
	"github.com/maxkimambo/revgraph/internal/logger"
)

// RetryPolicy wraps one fallible operation with bounded retries and exponential
// backoff. It is the only place a task body sleeps.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      bool          `json:"jitter"`

	// IsRetryable classifies a failure. Nil means errors.IsRetryableError.
	IsRetryable func(error) bool `json:"-"`
}

// DefaultRetryPolicy creates a retry policy with sensible defaults
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
		IsRetryable: errors.IsRetryableError,
	}
}

// Backoff returns the un-jittered delay after the given failed attempt:
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p *RetryPolicy) backoffFunc() func(attempt int) time.Duration {
	if !p.Jitter || p.BaseDelay <= 0 {
		return p.Backoff
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = p.BaseDelay
	}
	// gax grows the same base*2^n curve and draws the pause uniformly from (0, current].
	bo := &gax.Backoff{Initial: p.BaseDelay, Max: maxDelay, Multiplier: 2}
	return func(int) time.Duration { return bo.Pause() }
}

func (p *RetryPolicy) retryable(err error) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable(err)
	}
	return errors.IsRetryableError(err)
}

// Do runs fn until it succeeds, fails with a non-retryable error or MaxAttempts
// is reached. Cancellation of ctx is checked before every attempt and before
// every sleep; a cancelled run is reported as a Cancelled error and fn is not
// called again. Exhaustion returns the last error tagged ExhaustedRetries.
func (p *RetryPolicy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	nextDelay := p.backoffFunc()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return cancelledError(ctx, operation, lastErr)
		}

		recordAttempt(ctx)
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Op.WithFields(map[string]interface{}{
					"operation": operation,
					"attempts":  attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}

		if !p.retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := nextDelay(attempt)
		logger.Op.WithFields(map[string]interface{}{
			"operation":   operation,
			"attempt":     attempt,
			"maxAttempts": maxAttempts,
			"delay":       delay.String(),
			"error":       lastErr.Error(),
		}).Warn("Retrying failed operation")

		if ctx.Err() != nil {
			return cancelledError(ctx, operation, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return cancelledError(ctx, operation, lastErr)
		}
	}

	logger.Op.WithFields(map[string]interface{}{
		"operation": operation,
		"attempts":  maxAttempts,
		"error":     lastErr.Error(),
	}).Error("Operation failed after exhausting retries")

	return errors.NewExhaustedRetriesError(operation, maxAttempts, lastErr)
}

// Retry is Do for operations that produce a value.
func Retry[T any](ctx context.Context, p *RetryPolicy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancelledError(ctx context.Context, operation string, lastErr error) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	err := errors.NewCancelledError(operation, cause)
	if lastErr != nil {
		err.WithContext("last_error", lastErr.Error())
	}
	return err
}
