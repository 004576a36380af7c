// Package retry provides a bounded fixed-delay retry loop
// for operations that fail transiently, such as git pushes.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs fn up to attempts times, sleeping a fixed delay
// between attempts. onRetry is called after each failed
// attempt that will be retried, with the attempt number
// (starting at 1) and the error. The delay honors context
// cancellation. Returns nil on the first success, or the
// last error after exhausting all attempts.
func Do(
	ctx context.Context,
	attempts int,
	delay time.Duration,
	onRetry func(attempt int, err error),
	fn func() error,
) error {
	const errCtx = "retrying operation"

	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt, lastErr)
		}

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	return fmt.Errorf(
		"%s: %d attempts: %w",
		errCtx, attempts, lastErr,
	)
}

// sleep waits for d or until ctx is cancelled.
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
