package skills

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rohanthewiz/logger"
)

// RetryPolicy defines the configuration for retry attempts
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (excluding the initial attempt)
	MaxAttempts int
	// InitialDelay is the initial delay between retries
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay grows after each retry
	Multiplier float64
	// Jitter adds randomness to the delay to avoid thundering herd
	Jitter bool
	// RetryableErrors defines which errors should trigger a retry
	RetryableErrors func(error) bool
}

// DefaultRetryPolicy provides sensible defaults for skill dispatch
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     2,
	InitialDelay:    200 * time.Millisecond,
	MaxDelay:        5 * time.Second,
	Multiplier:      2.0,
	Jitter:          true,
	RetryableErrors: IsRetryableError,
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int
	Success       bool
	LastError     error
	TotalDuration time.Duration
}

// RetryOperation represents a function that can be retried
type RetryOperation func(ctx context.Context) error

// Retry executes an operation with the specified retry policy
func Retry(ctx context.Context, policy RetryPolicy, operation RetryOperation) RetryResult {
	start := time.Now()
	result := RetryResult{Attempts: 1}

	err := operation(ctx)
	if err == nil {
		result.Success = true
		result.TotalDuration = time.Since(start)
		return result
	}

	if policy.RetryableErrors != nil && !policy.RetryableErrors(err) {
		result.LastError = err
		result.TotalDuration = time.Since(start)
		return result
	}

	delay := policy.InitialDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result.Attempts++

		currentDelay := delay
		if policy.Jitter {
			jitter := float64(delay) * 0.2 * rand.Float64()
			currentDelay = time.Duration(float64(delay) + jitter)
		}

		logger.Debug("Retrying skill operation",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", currentDelay.String(),
			"previous_error", err.Error())

		select {
		case <-ctx.Done():
			result.LastError = fmt.Errorf("retry cancelled: %w", ctx.Err())
			result.TotalDuration = time.Since(start)
			return result
		case <-time.After(currentDelay):
		}

		err = operation(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			return result
		}

		if policy.RetryableErrors != nil && !policy.RetryableErrors(err) {
			break
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	result.LastError = err
	result.TotalDuration = time.Since(start)
	return result
}

// RetryingDispatcher wraps a Dispatcher with a retry policy and an optional
// per-call timeout. A stuck upstream call is bounded here, at the dispatch
// boundary.
type RetryingDispatcher struct {
	inner   Dispatcher
	policy  RetryPolicy
	timeout time.Duration
}

// NewRetryingDispatcher wraps a dispatcher. A zero timeout disables the
// per-call bound.
func NewRetryingDispatcher(inner Dispatcher, policy RetryPolicy, timeout time.Duration) *RetryingDispatcher {
	return &RetryingDispatcher{inner: inner, policy: policy, timeout: timeout}
}

// Execute dispatches with retries
func (d *RetryingDispatcher) Execute(ctx context.Context, skill string, args map[string]interface{}, agentID, tenantID string) (string, error) {
	var output string

	result := Retry(ctx, d.policy, func(ctx context.Context) error {
		callCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		out, err := d.inner.Execute(callCtx, skill, args, agentID, tenantID)
		if err != nil {
			return err
		}
		output = out
		return nil
	})

	if !result.Success {
		return "", result.LastError
	}
	return output, nil
}
