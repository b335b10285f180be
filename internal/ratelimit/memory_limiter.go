package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-process token bucket limiter: limit tokens refilled evenly over window.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   clockwork.Clock
	log     *slog.Logger
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter implementation.
func NewMemoryLimiter(clock clockwork.Clock, log *slog.Logger) *MemoryLimiter {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		clock:   clock,
		log:     log,
	}
}

// Check takes one token from the key's bucket.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.clock.Now()
	if limit <= 0 || window <= 0 {
		return &Result{Allowed: limit > 0, ResetAt: now.Add(window)}, nil
	}

	every := rate.Every(window / time.Duration(limit))

	m.mu.Lock()
	defer m.mu.Unlock()

	bkt, ok := m.buckets[key]
	if !ok {
		bkt = &bucket{limiter: rate.NewLimiter(every, limit)}
		m.buckets[key] = bkt
	} else if bkt.limiter.Limit() != every || bkt.limiter.Burst() != limit {
		bkt.limiter.SetLimitAt(now, every)
		bkt.limiter.SetBurstAt(now, limit)
	}
	bkt.lastSeen = now

	allowed := bkt.limiter.AllowN(now, 1)
	tokens := bkt.limiter.TokensAt(now)

	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if tokens < 1 {
		resetAt = now.Add(time.Duration((1 - tokens) * float64(window) / float64(limit)))
	}

	return &Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Cleanup removes buckets that have been inactive for more than maxAge.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	cutoff := m.clock.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, bkt := range m.buckets {
		if bkt.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
