package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every rate-limit key in Redis.
const KeyPrefix = "clearity:ratelimit:"

// slidingWindow trims the window, admits the request only while under the limit and
// returns {allowed, count, oldest score}.
//
// KEYS[1] window key
// ARGV[1] now (unix ms), ARGV[2] exclusive cutoff "(ms", ARGV[3] limit,
// ARGV[4] member, ARGV[5] key ttl (ms)
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])

local count = redis.call('ZCARD', key)
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, ARGV[5])

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = tonumber(ARGV[1])
if #oldest > 0 then
	score = tonumber(oldest[2])
end
return {allowed, count, score}
`)

// RedisLimiter is a sliding-window limiter shared by every bot replica.
// Only admitted requests occupy the window.
type RedisLimiter struct {
	client *redis.Client
	clock  clockwork.Clock
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client *redis.Client, clock clockwork.Clock, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RedisLimiter{client: client, clock: clock, log: log}
}

// Check admits one request for key if fewer than limit were admitted within window.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := l.clock.Now()
	if limit <= 0 {
		return &Result{Allowed: false, Remaining: 0, ResetAt: now.Add(window)}, nil
	}

	nowMs := now.UnixMilli()
	reply, err := slidingWindow.Run(ctx, l.client, []string{KeyPrefix + key},
		nowMs,
		fmt.Sprintf("(%d", now.Add(-window).UnixMilli()),
		limit,
		uuid.NewString(),
		strconv.FormatInt((2 * window).Milliseconds(), 10),
	).Int64Slice()
	if err != nil {
		l.log.Error("rate limiter script failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("rate limiter script returned %d values", len(reply))
	}

	allowed, count, oldest := reply[0] == 1, int(reply[1]), reply[2]
	return &Result{
		Allowed:   allowed,
		Remaining: max(limit-count, 0),
		ResetAt:   time.UnixMilli(oldest).Add(window),
	}, nil
}
