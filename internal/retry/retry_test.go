package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    5 * time.Millisecond,
	Multiplier:  2,
}

type markedError struct {
	retryable bool
}

func (e *markedError) Error() string   { return "marked" }
func (e *markedError) Retryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout substring", errors.New("request timed out"), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline exceeded", fmt.Errorf("call provider: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"rate limit substring", errors.New("429 Too Many Requests"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"overloaded", errors.New("Overloaded"), true},
		{"unknown", errors.New("invalid api key"), false},
		{"marker retryable", &markedError{retryable: true}, true},
		{"marker fatal", &markedError{retryable: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestMarkerOverridesSubstringMatch(t *testing.T) {
	// A fatal marker whose message happens to contain "timeout" must still be
	// classified as fatal.
	err := &timeoutLookingFatal{}
	assert.False(t, IsRetryable(err))
}

type timeoutLookingFatal struct{}

func (*timeoutLookingFatal) Error() string   { return "configuration timeout" }
func (*timeoutLookingFatal) Retryable() bool { return false }

func TestWithRetryEventualSuccess(t *testing.T) {
	calls := 0
	v, err := WithRetry(context.Background(), fastConfig, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestWithRetryTimedOutCallRetries(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastConfig, func() (struct{}, error) {
		calls++
		callCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-callCtx.Done()
		return struct{}{}, callCtx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, fastConfig.MaxAttempts, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastConfig, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, fastConfig.MaxAttempts, calls)
}

func TestWithRetryFatalErrorStopsImmediately(t *testing.T) {
	calls := 0
	fatal := &markedError{retryable: false}
	_, err := WithRetry(context.Background(), fastConfig, func() (struct{}, error) {
		calls++
		return struct{}{}, fatal
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	_, err := WithRetry(ctx, cfg, func() (struct{}, error) {
		calls++
		cancel()
		return struct{}{}, errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryNotifyFiresPerRetry(t *testing.T) {
	calls := 0
	var notified int
	_, err := WithRetryNotify(context.Background(), fastConfig, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("timeout")
	}, func(err error, next time.Duration) {
		notified++
		assert.Error(t, err)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	// Notify fires before each sleep, so attempts minus one.
	assert.Equal(t, 2, notified)
}
