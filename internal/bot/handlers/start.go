package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

// NewStartHandler opens a new funnel session. A running session in the same chat is replaced.
func NewStartHandler(rt Runtime, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		chatID, ok := ChatID(c)
		if !ok {
			log.Warn("start handler invoked without chat")
			return nil
		}

		if err := rt.Begin(context.Background(), chatID); err != nil {
			log.Error("failed to start session", slog.Int64("chat_id", chatID), slog.Any("error", err))
			return err
		}

		return nil
	}
}
