// Package ratelimit throttles updates per chat.
package ratelimit

import (
	"context"
	"time"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter describes a rate-limiting strategy interface.
// A rejected request is reported through Result.Allowed, not as an error.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Backend names used in metrics.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
