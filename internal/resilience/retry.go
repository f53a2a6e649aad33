package resilience

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping between attempts with
// exponential backoff starting at baseDelay. It returns nil on the first
// success, the last error once attempts are exhausted, or the context
// error if ctx is done while waiting. Intended for idempotent operations
// only; writes that may have partially applied must not be retried here.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
