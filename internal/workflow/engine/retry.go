package engine

import (
	"context"
	"time"

	"goa.design/convergio/internal/errs"
)

// backoffDelay computes min(60s, base*2^(attempt-1)), the exact §4.7.4
// formula, for the attempt'th failure (1-indexed).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if cap := 60 * time.Second; delay > cap {
		delay = cap
	}
	return delay
}

// ExecuteWithRetry calls fn up to maxRetries times total. Non-retryable
// errors (per errs.Kind.Retryable, §4.7.4) short-circuit immediately without
// a delay. Retryable errors sleep for backoffDelay(baseDelay, attempt)
// before the next attempt, via the injectable sleep function (real code
// passes time.Sleep; tests pass a recorder so delays are observable without
// elapsing real time).
//
// Scenario note (§8 S3): with max_retries=5 and 4 simulated failures before
// success, only 4 delays (attempts 1-4: 1s, 2s, 4s, 8s) actually elapse — the
// formula's 5th term (16s) is never reached because the call succeeds on
// attempt 5, one retry short of exhausting the budget. The general formula
// (testable property 6) describes the full k-length series an
// always-failing call would produce, not every concrete scenario.
func ExecuteWithRetry(ctx context.Context, sleep func(time.Duration), maxRetries int, baseDelay time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errs.ClassifyErr(err).Retryable() {
			return err
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sleep(backoffDelay(baseDelay, attempt))
	}
	return lastErr
}
