package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlasquant/tradecore/pkg/retry"
)

func TestDoSucceedsWithoutRetryingOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := retry.Do(context.Background(), retry.Default(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != 42 || calls != 1 {
		t.Fatalf("expected a single successful call, got result=%d calls=%d", result, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
	calls := 0
	result, err := retry.Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != 7 || calls != 3 {
		t.Fatalf("expected success on the third attempt, got result=%d calls=%d", result, calls)
	}
}

func TestDoReturnsWrappedErrorAfterExhaustingAttempts(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
	calls := 0
	_, err := retry.Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent")
	})
	if err == nil {
		t.Fatalf("expected an error after exhausting all attempts")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDoStopsEarlyOnContextCancellation(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := retry.Do(ctx, cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls >= 5 {
		t.Fatalf("expected cancellation to stop retries before exhausting all attempts, got %d calls", calls)
	}
}
