package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
)

// Policy describes the bounded exponential backoff applied to
// transient failures of external calls.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy mirrors the stock processing configuration: three
// attempts, one second base delay, capped at thirty seconds.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do runs op, retrying transient failures with exponential backoff up
// to MaxAttempts total attempts. Non-transient errors return
// immediately; exhausting the attempts returns the last error.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		bo.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	bo.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err looks like a recoverable network
// failure: timeouts, connection resets/refusals, rate limiting, or a
// 5xx-equivalent API error. Parse and validation errors are never
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	return false
}
