package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("database is locked (SQLITE_BUSY)")

func TestRetrySucceedsAfterConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), Backoff{Attempts: 3, BaseDelay: time.Millisecond}, "write", IsSQLiteConflictError,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	permanent := errors.New("constraint failed")
	calls := 0
	err := Retry(context.Background(), Backoff{Attempts: 5, BaseDelay: time.Millisecond}, "write", IsSQLiteConflictError,
		func(context.Context) error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	err := Retry(context.Background(), Backoff{Attempts: 2, BaseDelay: time.Millisecond}, "write", nil,
		func(context.Context) error { return errBusy })
	if !errors.Is(err, errBusy) {
		t.Fatalf("Expected wrapped busy error, got %v", err)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, Backoff{Attempts: 3, BaseDelay: time.Second}, "write", nil,
		func(context.Context) error { return errBusy })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	if IsSQLiteConflictError(nil) {
		t.Error("nil must not be a conflict")
	}
	if !IsSQLiteConflictError(errBusy) {
		t.Error("expected busy error to be a conflict")
	}
	if IsSQLiteConflictError(errors.New("no such table")) {
		t.Error("unexpected conflict for schema error")
	}
}
