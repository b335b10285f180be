package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, clockwork.NewFakeClock(), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "chat:1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 5-(i+1), result.Remaining)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, clockwork.NewFakeClock(), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "chat:2", 2, time.Minute)
		require.NoError(t, err)
		if i < 2 {
			assert.True(t, result.Allowed)
		} else {
			assert.False(t, result.Allowed)
			assert.Zero(t, result.Remaining)
		}
	}
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	client, _ := setupTestRedis(t)

	clock := clockwork.NewFakeClock()
	limiter := NewRedisLimiter(client, clock, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "chat:3", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		clock.Advance(100 * time.Millisecond)
	}

	result, err := limiter.Check(ctx, "chat:3", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	clock.Advance(1100 * time.Millisecond)

	result, err = limiter.Check(ctx, "chat:3", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRedisLimiter_NoClient(t *testing.T) {
	limiter := NewRedisLimiter(nil, nil, testLogger())

	_, err := limiter.Check(context.Background(), "chat:4", 1, time.Second)
	assert.Error(t, err)
}

func TestRedisLimiter_UsesPrefix(t *testing.T) {
	client, mr := setupTestRedis(t)

	limiter := NewRedisLimiter(client, clockwork.NewFakeClock(), testLogger())
	_, err := limiter.Check(context.Background(), "chat:5", 1, time.Minute)
	require.NoError(t, err)

	assert.True(t, mr.Exists(KeyPrefix+"chat:5"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisLimiter_RejectedRequestsDoNotExtendWindow(t *testing.T) {
	client, mr := setupTestRedis(t)

	clock := clockwork.NewFakeClock()
	limiter := NewRedisLimiter(client, clock, testLogger())
	ctx := context.Background()

	result, err := limiter.Check(ctx, "chat:6", 1, time.Second)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	for i := 0; i < 5; i++ {
		clock.Advance(150 * time.Millisecond)
		result, err = limiter.Check(ctx, "chat:6", 1, time.Second)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	}

	members, err := mr.ZMembers(KeyPrefix + "chat:6")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	clock.Advance(300 * time.Millisecond)
	result, err = limiter.Check(ctx, "chat:6", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
