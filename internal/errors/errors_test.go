package errors

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewExternalAPIErrorRetryable(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "network failure", status: 0, retryable: true},
		{name: "server error", status: 502, retryable: true},
		{name: "too many requests", status: 429, retryable: true},
		{name: "bad request", status: 400, retryable: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := NewExternalAPIError("submission", tc.status, io.ErrUnexpectedEOF)
			assert.Equal(t, tc.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestWithRetryPolicy(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	t.Run("retries retryable errors", func(t *testing.T) {
		calls := 0
		err := WithRetryPolicy(context.Background(), policy, func() error {
			calls++
			if calls < 3 {
				return NewDatabaseError(io.EOF)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non retryable", func(t *testing.T) {
		calls := 0
		err := WithRetryPolicy(context.Background(), policy, func() error {
			calls++
			return NewStageError(io.EOF)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := WithRetryPolicy(context.Background(), policy, func() error {
			calls++
			return NewExternalAPIError("submission", 503, nil)
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetryPolicy(ctx, policy, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	var transitions []string
	cb := NewCircuitBreaker(
		WithBreakerClock(clock),
		WithStateChange(func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) }),
	)

	failing := stderrors.New("boom")
	for i := 0; i < MinRequests; i++ {
		_ = cb.Call(func() error { return failing })
	}
	require.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	mu.Lock()
	now = now.Add(TimeoutDuration)
	mu.Unlock()

	for i := 0; i < HalfOpenMaxRequests; i++ {
		require.NoError(t, cb.Call(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestHandlerHandle(t *testing.T) {
	var codes []string
	h := NewHandler(testLogger(), false).WithRecorder(func(code string, _ Severity) {
		codes = append(codes, code)
	})

	msg, retry := h.Handle(context.Background(), NewRateLimitError(3))
	assert.Equal(t, "Too many signals. Try again in 3 seconds.", msg)
	assert.False(t, retry)

	msg, retry = h.Handle(context.Background(), stderrors.New("plain"))
	assert.Equal(t, defaultUserMessage, msg)
	assert.False(t, retry)

	msg, _ = h.Handle(context.Background(), nil)
	assert.Empty(t, msg)
	assert.Equal(t, []string{CodeRateLimit, "unknown"}, codes)
}
