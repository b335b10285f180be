package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every idempotency key in Redis.
const KeyPrefix = "clearity:idempotency:"

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Record is the stored state of a key. Response holds the JSON-encoded operation result.
type Record struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Store persists idempotency records and locks.
type Store interface {
	Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ReleaseLock(ctx context.Context, key string) error
}

// RedisStore keeps each record as a JSON string next to a separate lock key.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{client: client, log: log}
}

// Lock claims key for lockTTL. It reports false when another caller holds it.
func (s *RedisStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(key), StatusProcessing, lockTTL).Result()
	if err != nil {
		return false, s.fail("lock", key, err)
	}
	return acquired, nil
}

// Get returns the record of key, or nil when there is none.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get", key, err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode idempotency record %q: %w", key, err)
	}
	return &record, nil
}

// Set stores record under key for ttl. A nil record is a no-op.
func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record %q: %w", key, err)
	}
	if err := s.client.Set(ctx, recordKey(key), raw, ttl).Err(); err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

// Delete removes the record of key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, recordKey(key)).Err(); err != nil {
		return s.fail("delete", key, err)
	}
	return nil
}

// ReleaseLock frees key for other callers.
func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockKey(key)).Err(); err != nil {
		return s.fail("release lock", key, err)
	}
	return nil
}

func (s *RedisStore) fail(op, key string, err error) error {
	s.log.Error("idempotency store "+op+" failed", slog.String("key", key), slog.Any("error", err))
	return fmt.Errorf("idempotency %s %q: %w", op, key, err)
}

func recordKey(key string) string {
	return KeyPrefix + key
}

func lockKey(key string) string {
	return KeyPrefix + key + ":lock"
}
