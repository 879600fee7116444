package skills

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestRetryWithSuccess tests successful operation after retries
func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	operation := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}

	policy := RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    10 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		Multiplier:      2,
		Jitter:          false,
		RetryableErrors: func(err error) bool { return true },
	}

	result := Retry(context.Background(), policy, operation)

	if !result.Success {
		t.Errorf("Expected success, got failure: %v", result.LastError)
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
}

// TestRetryWithPermanentError tests that permanent errors don't retry
func TestRetryWithPermanentError(t *testing.T) {
	attempts := 0
	permanentErr := NewPermanentError(errors.New("permanent error"), "test")

	operation := func(ctx context.Context) error {
		attempts++
		return permanentErr
	}

	policy := RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    10 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		Multiplier:      2,
		Jitter:          false,
		RetryableErrors: IsRetryableError,
	}

	result := Retry(context.Background(), policy, operation)

	if result.Success {
		t.Error("Expected failure for permanent error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for permanent error, got %d", attempts)
	}
}

// TestRetryWithContextCancellation tests context cancellation
func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	operation := func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("temporary failure")
	}

	policy := RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    50 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		Multiplier:      2,
		Jitter:          false,
		RetryableErrors: func(err error) bool { return true },
	}

	result := Retry(ctx, policy, operation)

	if result.Success {
		t.Error("Expected failure due to cancellation")
	}
	if attempts > 3 {
		t.Errorf("Expected at most 3 attempts before cancellation, got %d", attempts)
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("Expected context.Canceled error, got %v", result.LastError)
	}
}

// TestIsRetryableError covers the classification rules
func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Error("nil must not be retryable")
	}
	if !IsRetryableError(NewRetryableError(errors.New("boom"), "transient")) {
		t.Error("explicit retryable error not recognized")
	}
	if IsRetryableError(NewPermanentError(errors.New("boom"), "fatal")) {
		t.Error("permanent error must not be retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Error("cancellation must not be retryable")
	}
}

type scriptedDispatcher struct {
	calls int
	errs  []error
}

func (d *scriptedDispatcher) Execute(_ context.Context, _ string, _ map[string]interface{}, _, _ string) (string, error) {
	d.calls++
	if d.calls <= len(d.errs) && d.errs[d.calls-1] != nil {
		return "", d.errs[d.calls-1]
	}
	return "done", nil
}

// TestRetryingDispatcherRecovers tests that a transient dispatch failure is
// retried and the eventual output survives
func TestRetryingDispatcherRecovers(t *testing.T) {
	inner := &scriptedDispatcher{errs: []error{
		NewRetryableError(errors.New("flaky"), "transient"),
	}}
	policy := RetryPolicy{
		MaxAttempts:     2,
		InitialDelay:    5 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		Multiplier:      2,
		RetryableErrors: IsRetryableError,
	}

	d := NewRetryingDispatcher(inner, policy, 0)
	out, err := d.Execute(context.Background(), "echo", nil, "agent-1", "tenant-1")
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if out != "done" {
		t.Errorf("expected dispatcher output, got %q", out)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 calls, got %d", inner.calls)
	}
}

// TestRetryingDispatcherStopsOnPermanent tests that permanent failures are
// surfaced without further attempts
func TestRetryingDispatcherStopsOnPermanent(t *testing.T) {
	inner := &scriptedDispatcher{errs: []error{
		NewPermanentError(errors.New("bad arguments"), "fatal"),
		nil,
	}}
	policy := RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    5 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		Multiplier:      2,
		RetryableErrors: IsRetryableError,
	}

	d := NewRetryingDispatcher(inner, policy, 0)
	_, err := d.Execute(context.Background(), "echo", nil, "agent-1", "tenant-1")
	if err == nil {
		t.Fatal("expected the permanent error to surface")
	}
	if inner.calls != 1 {
		t.Errorf("expected a single call, got %d", inner.calls)
	}
}
