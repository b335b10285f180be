package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cleaner ends sessions whose record has not been refreshed within ttl.
type Cleaner struct {
	registry *Registry
	storage  Storage
	clock    clockwork.Clock
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(registry *Registry, storage Storage, clock clockwork.Clock, log *slog.Logger, ttl, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Cleaner{
		registry: registry,
		storage:  storage,
		clock:    clock,
		log:      log,
		ttl:      ttl,
		interval: interval,
	}
}

// Run starts the cleanup loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.registry == nil || c.storage == nil || c.interval <= 0 {
		return
	}

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("session cleaner stopped", slog.Any("reason", ctx.Err()))
			return
		case <-ticker.Chan():
			c.Cleanup(ctx)
		}
	}
}

// Cleanup ends every expired session once. It returns the number of sessions ended.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	records, err := c.storage.List(ctx)
	if err != nil {
		c.log.Error("session cleaner list failed", slog.Any("error", err))
		return 0
	}

	now := c.clock.Now()
	ended := 0
	for _, record := range records {
		if now.Sub(record.UpdatedAt) <= c.ttl {
			continue
		}

		c.registry.End(ctx, record.ChatID)
		ended++
		c.log.Info("idle session cleared",
			slog.Int64("chat_id", record.ChatID),
			slog.String("session_id", record.SessionID),
			slog.String("stage", string(record.Stage)),
		)
	}

	return ended
}
