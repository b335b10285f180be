package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Proton-105/clearity-bot/pkg/metrics"
)

// DefaultCooldown is how long the adaptive limiter stays on the fallback after the primary fails.
const DefaultCooldown = 30 * time.Second

// AdaptiveLimiter prefers the shared Redis window and degrades to a stricter in-memory
// window while Redis is unavailable.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	clock    clockwork.Clock
	cooldown time.Duration
	log      *slog.Logger

	mu            sync.Mutex
	degradedUntil time.Time
}

var _ Limiter = (*AdaptiveLimiter)(nil)

// AdaptiveOption configures an AdaptiveLimiter.
type AdaptiveOption func(*AdaptiveLimiter)

// WithCooldown sets the clock and the period the primary is skipped after a failure.
func WithCooldown(clock clockwork.Clock, cooldown time.Duration) AdaptiveOption {
	return func(a *AdaptiveLimiter) {
		if clock != nil {
			a.clock = clock
		}
		a.cooldown = cooldown
	}
}

// NewAdaptiveLimiter wraps primary with fallback.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger, opts ...AdaptiveOption) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	a := &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		clock:    clockwork.NewRealClock(),
		cooldown: DefaultCooldown,
		log:      log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check asks the primary unless it failed within the cooldown. The fallback enforces half the
// limit, never less than one.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if !a.degraded() {
		result, err := a.primary.Check(ctx, key, limit, window)
		if err == nil {
			metrics.RecordRateLimitCheck(BackendRedis, result.Allowed)
			return result, nil
		}

		metrics.RecordRateLimitBackendError(BackendRedis)
		a.log.Warn("redis limiter failed, degrading to in-memory",
			slog.String("key", key),
			slog.Duration("cooldown", a.cooldown),
			slog.Any("error", err),
		)
		a.degrade()
	}

	result, err := a.fallback.Check(ctx, key, max(limit/2, 1), window)
	if err != nil {
		return nil, err
	}

	metrics.RecordRateLimitCheck(BackendMemory, result.Allowed)
	return result, nil
}

func (a *AdaptiveLimiter) degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock.Now().Before(a.degradedUntil)
}

func (a *AdaptiveLimiter) degrade() {
	a.mu.Lock()
	a.degradedUntil = a.clock.Now().Add(a.cooldown)
	a.mu.Unlock()
}
