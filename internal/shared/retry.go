package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff describes an exponential retry schedule.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
}

// SQLiteBackoff is the schedule used for SQLITE_BUSY conflicts: 100ms, 200ms, 400ms.
var SQLiteBackoff = Backoff{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Retry runs fn until it succeeds, retryable reports false, the attempts are
// exhausted, or ctx is done. A nil retryable retries every error.
func Retry(ctx context.Context, b Backoff, op string, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		delay := b.BaseDelay * time.Duration(1<<i)
		slog.Debug("Retrying operation", "op", op, "attempt", i+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}
