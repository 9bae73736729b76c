// Package retry implements the bounded exponential backoff used by the
// inference tiers, the alert router and the batch orchestrator.
package retry

import (
	"context"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Delay returns the backoff delay before the given attempt (0-based): base
// delay doubled per attempt, capped at the policy maximum.
func Delay(policy domain.RetryConfig, attempt int) time.Duration {
	d := policy.BaseDelay
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if policy.MaxDelay > 0 && d >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		return policy.MaxDelay
	}
	return d
}

// Retryable classifies whether an error is worth another attempt.
type Retryable func(error) bool

// Do runs fn up to policy.MaxAttempts times, sleeping the backoff delay
// between attempts. Non-retryable errors and context cancellation return
// immediately. The last error is returned when attempts are exhausted.
func Do(ctx context.Context, policy domain.RetryConfig, retryable Retryable, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Delay(policy, attempt-1)):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
