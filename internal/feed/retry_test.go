package feed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelayJitterBounds(t *testing.T) {
	b := newBackoff(5, 100*time.Millisecond, time.Minute)
	for n := 0; n < 5; n++ {
		full := (100 * time.Millisecond) << n
		for i := 0; i < 50; i++ {
			d := b.delay(n)
			if d < full/2 || d > full {
				t.Fatalf("attempt %d delay %s outside [%s, %s]", n, d, full/2, full)
			}
		}
	}

	if d := b.delay(40); d < maxRetryDelay/2 || d > maxRetryDelay {
		t.Fatalf("expected capped delay, got %s", d)
	}
}

func TestBackoffRetriesUntilSuccess(t *testing.T) {
	b := newBackoff(3, time.Millisecond, time.Minute)
	calls := 0
	err := b.do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestBackoffStopsWhenBudgetExhausted(t *testing.T) {
	// budget is half the poll interval: 50ms, below the first 100-200ms wait.
	b := newBackoff(5, 200*time.Millisecond, 100*time.Millisecond)
	calls := 0
	start := time.Now()
	err := b.do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("waited %s past the budget", elapsed)
	}
}

func TestBackoffHonorsCancellation(t *testing.T) {
	b := newBackoff(5, 50*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := b.do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call after cancel, got %d", calls)
	}
}
