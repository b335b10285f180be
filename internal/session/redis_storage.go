package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPattern  = "clearity:session:%d"
	sessionScanPattern = "clearity:session:*"
	scanBatchCount     = 100
)

// RedisStorage persists session records in Redis with a TTL.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisStorage initializes a Redis-backed Storage implementation.
func NewRedisStorage(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisStorage {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisStorage{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// Get returns the stored record or ErrSessionNotFound when absent.
func (s *RedisStorage) Get(ctx context.Context, chatID int64) (*Record, error) {
	data, err := s.client.Get(ctx, sessionKey(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}

		s.log.Error("failed to get session from redis", "chat_id", chatID, "error", err)
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		s.log.Error("failed to decode session", "chat_id", chatID, "error", err)
		return nil, err
	}

	return &record, nil
}

// Save stores record, refreshing its TTL.
func (s *RedisStorage) Save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		s.log.Error("failed to encode session", "chat_id", record.ChatID, "error", err)
		return err
	}

	if err := s.client.Set(ctx, sessionKey(record.ChatID), data, s.ttl).Err(); err != nil {
		s.log.Error("failed to save session in redis", "chat_id", record.ChatID, "error", err)
		return err
	}

	return nil
}

// Delete removes the stored record for the given chat.
func (s *RedisStorage) Delete(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, sessionKey(chatID)).Err(); err != nil {
		s.log.Error("failed to delete session", "chat_id", chatID, "error", err)
		return err
	}

	return nil
}

// List retrieves every stored record by scanning Redis keys.
func (s *RedisStorage) List(ctx context.Context) ([]*Record, error) {
	var (
		cursor uint64
		result []*Record
	)

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, sessionScanPattern, scanBatchCount).Result()
		if err != nil {
			s.log.Error("failed to scan sessions", "error", err)
			return nil, err
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}

				s.log.Error("failed to fetch session", "key", key, "error", err)
				return nil, err
			}

			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				s.log.Warn("skipping undecodable session", "key", key, "error", err)
				continue
			}
			result = append(result, &record)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return result, nil
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf(sessionKeyPattern, chatID)
}
