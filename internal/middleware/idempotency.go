// Package middleware holds cross-cutting wrappers for bot handlers and HTTP routes.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	"github.com/Proton-105/clearity-bot/internal/idempotency"
	"github.com/Proton-105/clearity-bot/pkg/metrics"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Idempotency ensures handlers execute at most once per Telegram update.
// Telegram redelivers updates after webhook timeouts; a repeated callback must not advance the funnel twice.
func Idempotency(manager idempotency.Manager, ttl time.Duration, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key := updateKey(c)
			if key == "" {
				return next(c)
			}

			result, err := manager.Execute(context.Background(), key, ttl, func(context.Context) (interface{}, error) {
				return nil, next(c)
			})
			switch {
			case errors.Is(err, idempotency.ErrRequestInProgress):
				metrics.RecordDuplicateUpdate()
				log.Debug("update already in progress", slog.String("key", key))
				return nil
			case err != nil:
				log.Error("idempotent handler failed", slog.String("key", key), slog.Any("error", err))
				return err
			case result != nil && result.FromCache:
				metrics.RecordDuplicateUpdate()
				log.Debug("duplicate update skipped", slog.String("key", key))
			}
			return nil
		}
	}
}

// updateKey derives the dedup key of an update. Callbacks use the query id when Telegram sends
// one; otherwise the originating message plus the button data.
func updateKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if cb := c.Callback(); cb != nil {
		switch {
		case cb.ID != "":
			return idempotency.CallbackKey(cb.ID)
		case cb.Message != nil && cb.Message.Chat != nil:
			return idempotency.GenerateKey(idempotency.KindCallback,
				strconv.FormatInt(cb.Message.Chat.ID, 10), strconv.Itoa(cb.Message.ID), cb.Data)
		default:
			return ""
		}
	}

	msg := c.Message()
	if msg == nil || msg.ID == 0 {
		return ""
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return idempotency.MessageKey(chatID, msg.ID)
}
