package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Cleaner removes idempotency keys that lost their TTL or carry one longer than maxTTL.
type Cleaner struct {
	client   *redis.Client
	clock    clockwork.Clock
	log      *slog.Logger
	interval time.Duration
	maxTTL   time.Duration
}

// NewCleaner creates a Cleaner.
func NewCleaner(client *redis.Client, clock clockwork.Clock, log *slog.Logger, interval, maxTTL time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Cleaner{
		client:   client,
		clock:    clock,
		log:      log,
		interval: interval,
		maxTTL:   maxTTL,
	}
}

// Run cleans up every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil || c.interval <= 0 {
		return
	}

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Cleanup(ctx)
		}
	}
}

// Cleanup runs one pass and returns the number of deleted keys.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	deleted := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			deleted += c.sweep(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Error("idempotency cleaner scan failed", slog.Any("error", err))
	}
	deleted += c.sweep(ctx, batch)

	if deleted > 0 {
		c.log.Info("idempotency keys cleaned", slog.Int("deleted", deleted))
	}
	return deleted
}

// sweep deletes the keys in batch that have no TTL or one longer than maxTTL.
func (c *Cleaner) sweep(ctx context.Context, batch []string) int {
	if len(batch) == 0 {
		return 0
	}

	pipe := c.client.Pipeline()
	ttls := make([]*redis.DurationCmd, len(batch))
	for i, key := range batch {
		ttls[i] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("failed to read idempotency key ttls", slog.Any("error", err))
		return 0
	}

	stale := make([]string, 0, len(batch))
	for i, cmd := range ttls {
		// -2 means the key vanished between SCAN and TTL.
		if ttl := cmd.Val(); ttl == -1 || ttl > c.maxTTL {
			stale = append(stale, batch[i])
		}
	}
	if len(stale) == 0 {
		return 0
	}

	n, err := c.client.Del(ctx, stale...).Result()
	if err != nil {
		c.log.Warn("failed to delete stale idempotency keys", slog.Int("count", len(stale)), slog.Any("error", err))
		return 0
	}
	return int(n)
}
