package ratelimit

import (
	"slices"
	"strings"
	"time"

	"github.com/Proton-105/clearity-bot/pkg/config"
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	cfg config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{cfg: cfg}
}

// IsWhitelisted returns true if the chat bypasses rate limits.
func (r *Rules) IsWhitelisted(chatID int64) bool {
	return slices.Contains(r.cfg.Whitelist, chatID)
}

// PerChatLimit returns the limit applied to every update of a chat.
func (r *Rules) PerChatLimit() (int, time.Duration, error) {
	return config.ParseRule(r.cfg.PerChat)
}

// CommandLimit returns the stricter limit for slash commands, which restart the funnel.
func (r *Rules) CommandLimit() (int, time.Duration, error) {
	return config.ParseRule(r.cfg.Commands)
}

// IsCommand reports whether text is a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(text, "/")
}
