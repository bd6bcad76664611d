package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: []ErrorCategory{
			ErrorCategoryNetwork,
			ErrorCategoryRegistry,
			ErrorCategoryTimeout,
		},
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWithContext(context.Background(), fastRetryConfig(3), "push", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := RetryWithContext(context.Background(), fastRetryConfig(3), "push", func() error {
		calls++
		if calls < 3 {
			return NewRegistryError("push", "connection reset", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	authErr := NewAuthError("push", "unauthorized", nil)
	err := RetryWithContext(context.Background(), fastRetryConfig(3), "push", func() error {
		calls++
		return authErr
	})
	if err != authErr {
		t.Errorf("Expected the auth error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Non-retryable error should stop after 1 call, got %d", calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	err := RetryWithContext(context.Background(), fastRetryConfig(2), "push", func() error {
		calls++
		return NewRegistryError("push", "service unavailable", nil)
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls (1 + 2 retries), got %d", calls)
	}
	planErr, ok := AsPlanError(err)
	if !ok {
		t.Fatal("Exhaustion error should be a PlanError")
	}
	if planErr.Retryable {
		t.Error("Exhaustion error should not itself be retryable")
	}
	if planErr.Unwrap() == nil {
		t.Error("Exhaustion error should carry the last attempt error")
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithContext(ctx, fastRetryConfig(3), "push", func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if calls != 0 {
		t.Errorf("Cancelled context should prevent any attempt, got %d calls", calls)
	}
	if !IsCategory(err, ErrorCategoryTimeout) {
		t.Errorf("Expected timeout category, got %v", err)
	}
}

func TestRetryCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastRetryConfig(5)
	config.InitialInterval = 200 * time.Millisecond
	config.MaxInterval = 200 * time.Millisecond

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- RetryWithContext(ctx, config, "push", func() error {
			calls++
			if calls == 1 {
				cancel()
			}
			return NewRegistryError("push", "connection reset", nil)
		})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected cancellation error")
		}
		if calls != 1 {
			t.Errorf("Expected 1 call before cancellation, got %d", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not observe cancellation")
	}
}

func TestRetryPlainErrorHeuristics(t *testing.T) {
	calls := 0
	err := Retry(fastRetryConfig(2), "push", func() error {
		calls++
		return fmt.Errorf("read tcp: i/o timeout")
	})
	if err == nil {
		t.Fatal("Expected failure")
	}
	if calls != 3 {
		t.Errorf("Transient plain error should be retried, got %d calls", calls)
	}

	calls = 0
	permanent := fmt.Errorf("manifest invalid")
	err = Retry(fastRetryConfig(2), "push", func() error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Errorf("Expected permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Permanent plain error should not be retried, got %d calls", calls)
	}
}
