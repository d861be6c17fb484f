package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RetryPolicy bounds the retry loop around each model call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the observed transport bounds: 5 attempts,
// 1s base exponential backoff, capped at 10s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// apiError is a non-2xx response from the model service.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

// retryable reports whether the error is transient: network failures,
// timeouts, rate limits, and server errors retry; semantic failures
// (authenticated-but-invalid requests, bad auth) never do.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var api *apiError
	if errors.As(err, &api) {
		return api.Status == 429 || api.Status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Anything else that reached the wire and came back broken (closed
	// connections, EOF mid-body) is treated as transient.
	return true
}

// Do runs fn under the policy, sleeping with exponential backoff between
// attempts. Non-retryable errors and context cancellation end the loop
// immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << uint(attempt-1)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxAttempts, lastErr)
}
