package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
)

const fallbackUserMessage = "Signal lost. Please try again in a moment."

// RecoveryMiddleware turns a handler panic into a stage error and tells the visitor something went wrong.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				notifyVisitor(c, errHandler, apperrors.NewStageError(fmt.Errorf("panic recovered: %v", r)), log)
				err = nil
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware reports handler errors and swallows them once the visitor has been told.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			if err := next(c); err != nil {
				notifyVisitor(c, errHandler, err, nil)
			}
			return nil
		}
	}
}

// notifyVisitor reports err and sends the visitor-facing message, or a generic one when none is set.
func notifyVisitor(c telebot.Context, errHandler *apperrors.Handler, err error, log *slog.Logger) {
	msg := fallbackUserMessage
	if errHandler != nil {
		if userMsg, _ := errHandler.Handle(context.Background(), err); userMsg != "" {
			msg = userMsg
		}
	}

	if c == nil {
		return
	}
	if sendErr := c.Send(msg); sendErr != nil && log != nil {
		log.Error("failed to notify visitor", slog.Any("error", sendErr))
	}
}

// LoggingMiddleware logs chat id, update kind and duration. Message text is never logged.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()
			chatID, _ := handlers.ChatID(c)
			attrs := []any{slog.Int64("chat_id", chatID), slog.String("kind", updateKind(c))}

			err := next(c)

			attrs = append(attrs, slog.Duration("duration", time.Since(start)))
			if err != nil {
				log.Warn("update failed", append(attrs, slog.Any("error", err))...)
				return err
			}
			log.Info("update handled", attrs...)
			return nil
		}
	}
}

func updateKind(c telebot.Context) string {
	if c != nil && c.Callback() != nil {
		return "callback"
	}
	return "message"
}

// Toucher keeps a chat's session record fresh.
type Toucher interface {
	Touch(ctx context.Context, chatID int64)
}

// SessionTouchMiddleware refreshes the session record after every update so idle cleanup spares active chats.
func SessionTouchMiddleware(sessions Toucher) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil || sessions == nil {
			return next
		}

		return func(c telebot.Context) error {
			err := next(c)
			if chatID, ok := handlers.ChatID(c); ok {
				sessions.Touch(context.Background(), chatID)
			}
			return err
		}
	}
}
