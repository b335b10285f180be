// Package idempotency runs an operation at most once per key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultLockTTL   = 5 * time.Minute
	defaultPollDelay = 100 * time.Millisecond
)

// ErrRequestInProgress is returned while another caller holds the key.
var ErrRequestInProgress = errors.New("request with this key is already in progress")

// Operation is the work guarded by a key.
type Operation func(ctx context.Context) (interface{}, error)

// Result is the outcome of Execute. FromCache marks a repeated key.
type Result struct {
	Response  interface{}
	FromCache bool
}

// Manager executes operations idempotently.
type Manager interface {
	Execute(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fn Operation,
	) (*Result, error)
}

type manager struct {
	store   Store
	clock   clockwork.Clock
	lockTTL time.Duration
	log     *slog.Logger
}

// Option customizes a manager.
type Option func(*manager)

// WithClock replaces the clock used between lock polls.
func WithClock(clock clockwork.Clock) Option {
	return func(m *manager) { m.clock = clock }
}

// WithLockTTL bounds how long a crashed holder can block a key.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *manager) { m.lockTTL = ttl }
}

// NewManager returns a Manager backed by store.
func NewManager(store Store, log *slog.Logger, opts ...Option) Manager {
	if log == nil {
		log = slog.Default()
	}

	m := &manager{
		store:   store,
		clock:   clockwork.NewRealClock(),
		lockTTL: defaultLockTTL,
		log:     log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs fn unless key already completed. A failed fn leaves the key free for a retry.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	for {
		locked, err := m.store.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return nil, err
		}
		if locked {
			return m.run(ctx, key, ttl, fn)
		}

		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		switch {
		case record == nil:
			// Lock holder has not written a record yet.
		case record.Status == StatusProcessing:
			return nil, ErrRequestInProgress
		case record.Status == StatusCompleted:
			return cached(record)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.clock.After(defaultPollDelay):
		}
	}
}

func (m *manager) run(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == StatusCompleted {
		return cached(record)
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusProcessing}, m.lockTTL); err != nil {
		return nil, err
	}

	result, err := fn(ctx)
	if err != nil {
		if delErr := m.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			m.log.Warn("failed to clear idempotency record", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}

	responseBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, key, &Record{
		Status:   StatusCompleted,
		Response: responseBytes,
	}, ttl); err != nil {
		return nil, err
	}

	return &Result{
		Response:  result,
		FromCache: false,
	}, nil
}

func cached(record *Record) (*Result, error) {
	var response interface{}
	if len(record.Response) > 0 {
		if err := json.Unmarshal(record.Response, &response); err != nil {
			return nil, err
		}
	}
	return &Result{Response: response, FromCache: true}, nil
}
