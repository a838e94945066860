// Package retry wraps fallible operations in exponential backoff with
// jitter, classifying errors as retryable or fatal.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultConfig matches the provider streaming policy: 3 attempts, 1 s base
// delay, doubling, capped at 10 s, with ±25% jitter.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    10 * time.Second,
	Multiplier:  2,
}

// Retryable marks errors that are explicitly safe to retry.
type Retryable interface {
	Retryable() bool
}

// retryableSubstrings is a deliberately permissive substring match, not a
// full taxonomy. Revisit per deployment.
var retryableSubstrings = []string{
	"network error",
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"service unavailable",
	"empty response",
	"connection refused",
	"connection reset",
	"socket hang up",
	"read timeout",
	"overloaded",
}

// IsRetryable classifies an error: true when it carries an explicit
// retryable marker or its message matches a known transient pattern.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var marker Retryable
	if errors.As(err, &marker) {
		return marker.Retryable()
	}
	// A fired per-call deadline is a network-class failure; an explicit
	// cancellation is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range retryableSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// WithRetry runs op under the backoff schedule. Non-retryable errors and the
// final failed attempt are returned immediately.
func WithRetry[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	return WithRetryNotify(ctx, cfg, op, nil)
}

// WithRetryNotify is WithRetry with a callback invoked before each sleep.
func WithRetryNotify[T any](ctx context.Context, cfg Config, op func() (T, error), notify func(err error, next time.Duration)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.RandomizationFactor = 0.25
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxDelay
	b.MaxElapsedTime = 0

	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !IsRetryable(err) {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return v, err
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx)
	if notify == nil {
		return backoff.RetryWithData(wrapped, schedule)
	}
	return backoff.RetryNotifyWithData(wrapped, schedule, notify)
}
