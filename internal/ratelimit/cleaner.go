package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Cleaner periodically trims rate-limit keys and drops the empty ones.
// It also evicts idle in-memory buckets when a MemoryLimiter is attached.
type Cleaner struct {
	redisClient *redis.Client
	memory      *MemoryLimiter
	clock       clockwork.Clock
	log         *slog.Logger
	interval    time.Duration
	maxAge      time.Duration
}

// NewCleaner constructs a Cleaner instance. client and memory may be nil.
func NewCleaner(client *redis.Client, memory *MemoryLimiter, clock clockwork.Clock, log *slog.Logger, interval, maxAge time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Cleaner{
		redisClient: client,
		memory:      memory,
		clock:       clock,
		log:         log,
		interval:    interval,
		maxAge:      maxAge,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 || (c.redisClient == nil && c.memory == nil) {
		return
	}

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.Chan():
			c.Cleanup(ctx)
		}
	}
}

// Cleanup runs one pass and returns the number of removed keys and buckets.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	cleaned := 0
	if c.memory != nil {
		cleaned += c.memory.Cleanup(c.maxAge)
	}
	if c.redisClient != nil {
		cleaned += c.cleanupRedis(ctx)
	}

	if cleaned > 0 {
		c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", cleaned))
	}
	return cleaned
}

const trimBatch = 100

func (c *Cleaner) cleanupRedis(ctx context.Context) int {
	// Scores are unix milliseconds.
	cutoff := fmt.Sprintf("(%d", c.clock.Now().Add(-c.maxAge).UnixMilli())

	iter := c.redisClient.Scan(ctx, 0, KeyPrefix+"*", trimBatch).Iterator()
	batch := make([]string, 0, trimBatch)
	removed := 0

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == trimBatch {
			removed += c.trim(ctx, batch, cutoff)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Error("rate limit scan failed", slog.Any("error", err))
	}
	if len(batch) > 0 {
		removed += c.trim(ctx, batch, cutoff)
	}

	return removed
}

// trim drops window entries older than cutoff and deletes the keys left empty.
func (c *Cleaner) trim(ctx context.Context, keys []string, cutoff string) int {
	pipe := c.redisClient.Pipeline()
	cards := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		cards[i] = pipe.ZCard(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("rate limit trim failed", slog.Int("keys", len(keys)), slog.Any("error", err))
		return 0
	}

	var empty []string
	for i, card := range cards {
		if card.Val() == 0 {
			empty = append(empty, keys[i])
		}
	}
	if len(empty) == 0 {
		return 0
	}

	// A request admitted between ZCARD and DEL is lost; the limiter only errs towards allowing.
	n, err := c.redisClient.Del(ctx, empty...).Result()
	if err != nil {
		c.log.Warn("failed to delete empty rate limit keys", slog.Any("error", err))
		return 0
	}
	return int(n)
}
