package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
	"github.com/Proton-105/clearity-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(updateName(c), status, time.Since(start))

		return err
	}
}

// updateName keeps label cardinality bounded: callback uniques, slash commands, or "text".
func updateName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		unique, _, err := keyboard.DecodeCallback(cb.Data)
		if err != nil || unique == "" {
			return "callback"
		}
		return unique
	}

	text := c.Text()
	if text == "" {
		return "unknown"
	}
	if strings.HasPrefix(text, "/") {
		command, _, _ := strings.Cut(text, " ")
		command, _, _ = strings.Cut(command, "@")
		return command
	}

	return "text"
}
