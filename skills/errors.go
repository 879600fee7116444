package skills

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// RetryableError marks a failure worth retrying
type RetryableError struct {
	Err    error
	Reason string
}

func (e *RetryableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("retryable error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that should not be retried
type PermanentError struct {
	Err    error
	Reason string
}

func (e *PermanentError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permanent error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an error as retryable
func NewRetryableError(err error, reason string) error {
	return &RetryableError{Err: err, Reason: reason}
}

// NewPermanentError wraps an error as permanent
func NewPermanentError(err error, reason string) error {
	return &PermanentError{Err: err, Reason: reason}
}

// IsRetryableError determines whether an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection refused", "connection reset", "temporary failure", "timeout"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}

	return false
}
