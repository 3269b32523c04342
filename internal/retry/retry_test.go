package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithExponentialBackoff(context.Background(), "flaky", 4, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := WithExponentialBackoff(context.Background(), "doomed", 3, time.Millisecond, func() error {
		calls++
		return errors.New("always")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := WithExponentialBackoff(ctx, "cancelled", 10, time.Hour, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call before the long wait, got %d", calls)
	}
}
