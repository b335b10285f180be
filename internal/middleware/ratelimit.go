package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
	"github.com/Proton-105/clearity-bot/internal/ratelimit"
)

// RateLimit enforces per-chat limits for incoming Telegram updates.
// Slash commands are checked against a stricter rule as well. Limiter failures let the update through.
// Rejections go through errHandler, which picks the reply; errHandler may be nil.
func RateLimit(limiter ratelimit.Limiter, rules *ratelimit.Rules, errHandler *apperrors.Handler, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}
		if limiter == nil || rules == nil {
			return next
		}

		return func(c telebot.Context) error {
			chatID, ok := handlers.ChatID(c)
			if !ok || rules.IsWhitelisted(chatID) {
				return next(c)
			}

			ctx := context.Background()

			if res := check(ctx, limiter, log, fmt.Sprintf("chat:%d", chatID), rules.PerChatLimit); res != nil {
				return reject(ctx, c, errHandler, log, chatID, res)
			}

			if c.Callback() == nil && ratelimit.IsCommand(c.Text()) {
				if res := check(ctx, limiter, log, fmt.Sprintf("chat:%d:commands", chatID), rules.CommandLimit); res != nil {
					return reject(ctx, c, errHandler, log, chatID, res)
				}
			}

			return next(c)
		}
	}
}

// check returns the limiter result when key is over its limit and nil otherwise.
func check(ctx context.Context, limiter ratelimit.Limiter, log *slog.Logger, key string, rule func() (int, time.Duration, error)) *ratelimit.Result {
	limit, window, err := rule()
	if err != nil {
		log.Error("failed to load rate limit rule", slog.String("key", key), slog.Any("error", err))
		return nil
	}

	result, err := limiter.Check(ctx, key, limit, window)
	if err != nil {
		log.Warn("rate limiter error", slog.String("key", key), slog.Any("error", err))
		return nil
	}
	if result == nil || result.Allowed {
		return nil
	}
	return result
}

func reject(ctx context.Context, c telebot.Context, errHandler *apperrors.Handler, log *slog.Logger, chatID int64, res *ratelimit.Result) error {
	err := apperrors.NewRateLimitError(retryAfter(res.ResetAt))

	msg := err.UserMessage
	if errHandler != nil {
		msg, _ = errHandler.Handle(ctx, err)
	} else {
		log.Warn("rate limit exceeded", slog.Int64("chat_id", chatID))
	}

	if c.Callback() != nil {
		return c.Respond(&telebot.CallbackResponse{Text: msg})
	}
	return c.Send(msg)
}

// retryAfter rounds the wait up to whole seconds, never below one.
func retryAfter(resetAt time.Time) int {
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
