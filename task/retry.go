package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
)

// RetryPolicy controls how often SafeToRetry steps are attempted when they
// fail with an unclassified error. NotRetryable steps are attempted once
// whatever the policy says.
type RetryPolicy struct {
	// Attempts is the maximum number of attempts. Zero or one disables retries.
	Attempts uint
	// Delay is the initial backoff between attempts.
	Delay time.Duration
}

// DefaultRetryPolicy attempts every step once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 1, Delay: 200 * time.Millisecond}
}

// retryable is false for outcomes that another attempt cannot change.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if apperr.IsApplication(err) || errors.Is(err, roster.ErrNotFound) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// attempt runs op once, or under the retry policy when step is SafeToRetry,
// and returns the number of executions.
func (o *Orchestrator) attempt(step Step, logger *slog.Logger, op func() error) (int, error) {
	attempts := 0
	counted := func() error {
		attempts++
		return op()
	}

	if step.Idempotency() != SafeToRetry || o.retry.Attempts <= 1 {
		return attempts, counted()
	}

	err := retry.Do(counted,
		retry.Attempts(o.retry.Attempts),
		retry.Delay(o.retry.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("step attempt failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	return attempts, err
}
