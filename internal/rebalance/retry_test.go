package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("persistent")
	attempts := 0
	err := withRetry(context.Background(), 2, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the last error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected initial try plus 2 retries, got %d", attempts)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, 5, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
