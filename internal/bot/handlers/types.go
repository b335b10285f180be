package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/funnel"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CallbackHandler processes inline callback events.
type CallbackHandler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// View is the part of the chat screen handlers drive directly.
type View interface {
	Refresh(s funnel.Snapshot)
	Await(field string)
	Awaiting(form funnel.FormState) string
}

// Runtime owns the live funnel sessions, one per chat.
type Runtime interface {
	// Begin starts a fresh session for the chat, replacing any running one.
	Begin(ctx context.Context, chatID int64) error
	// Finish ends the chat's session and reports whether one was running.
	Finish(ctx context.Context, chatID int64) bool
	// Lookup returns the chat's machine and its view.
	Lookup(chatID int64) (*funnel.Machine, View, bool)
}

// ChatID returns the chat the update belongs to.
func ChatID(c telebot.Context) (int64, bool) {
	if c == nil {
		return 0, false
	}
	if chat := c.Chat(); chat != nil {
		return chat.ID, true
	}
	if sender := c.Sender(); sender != nil {
		return sender.ID, true
	}
	return 0, false
}
