package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/funnel"
)

// NewAnswerHandler stores a free-text answer of the cognition stages.
// The answer replaces the previous one and is submitted with the submit button.
func NewAnswerHandler(rt Runtime, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		chatID, ok := ChatID(c)
		if !ok {
			return nil
		}
		m, view, ok := rt.Lookup(chatID)
		if !ok {
			return nil
		}

		var err error
		switch m.Stage() {
		case funnel.StageCognition1:
			err = m.SetFightNoise(c.Text())
		case funnel.StageCognition2:
			err = m.SetAssistance(c.Text())
		default:
			err = funnel.ErrActionUnavailable
		}
		if err == nil {
			view.Refresh(m.Snapshot())
		}

		return settle(m, view, err, log.With(slog.Int64("chat_id", chatID)))
	}
}

// NewContactHandler fills the awaited contact field with the message text.
func NewContactHandler(rt Runtime, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		chatID, ok := ChatID(c)
		if !ok {
			return nil
		}
		m, view, ok := rt.Lookup(chatID)
		if !ok {
			return nil
		}

		field := view.Awaiting(m.Snapshot().Form)
		var err error
		switch field {
		case funnel.FieldName:
			err = m.SetName(c.Text())
		case funnel.FieldEmail:
			err = m.SetEmail(c.Text())
		case funnel.FieldTelegram:
			err = m.SetTelegram(c.Text())
		default:
			err = funnel.ErrActionUnavailable
		}
		if err == nil {
			view.Await("")
			view.Refresh(m.Snapshot())
		}

		return settle(m, view, err, log.With(slog.Int64("chat_id", chatID)))
	}
}
