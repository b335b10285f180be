package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/script"
)

// NewCancelHandler ends the chat's session.
func NewCancelHandler(rt Runtime, store *script.Store, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		chatID, ok := ChatID(c)
		if !ok {
			log.Warn("cancel handler invoked without chat")
			return nil
		}

		catalog := store.Catalog()
		if !rt.Finish(context.Background(), chatID) {
			return c.Send(catalog.Text(script.KeyUnknownCommand))
		}

		if err := c.Send(catalog.Text(script.KeyCancelled)); err != nil {
			log.Error("failed to notify user about cancellation", slog.Int64("chat_id", chatID), slog.Any("error", err))
			return err
		}

		return nil
	}
}

// NewFallbackHandler answers updates no session or stage can take.
func NewFallbackHandler(store *script.Store) Handler {
	return func(c telebot.Context) error {
		if c.Callback() != nil {
			return c.Respond()
		}
		return c.Send(store.Catalog().Text(script.KeyUnknownCommand))
	}
}
