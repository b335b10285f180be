package logger

import (
	"context"
	"log/slog"
	"strings"
)

const maskedValue = "***"

// Exact keys that carry visitor PII or free-text answers.
var piiKeys = map[string]struct{}{
	"name":        {},
	"distinct_id": {},
	"email":       {},
	"telegram":    {},
	"fight_noise": {},
	"fightnoise":  {},
	"assistance":  {},
}

// Key suffixes that mark credentials, e.g. "bot_token" or "posthog_key".
var secretSuffixes = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"_key",
	"authorization",
	"dsn",
}

// MaskingHandler wraps a slog.Handler and masks sensitive attributes before delegating.
type MaskingHandler struct {
	next slog.Handler
}

// NewMaskingHandler creates a handler that masks sensitive fields before passing records downstream.
func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &MaskingHandler{next: h.next.WithAttrs(maskAttrs(attrs))}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

// Handle masks the record's attributes and delegates to the wrapped handler.
func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	masked.AddAttrs(maskAttrs(attrs)...)
	return h.next.Handle(ctx, masked)
}

func maskAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		out[i] = maskAttr(attr)
	}
	return out
}

func maskAttr(attr slog.Attr) slog.Attr {
	if isSensitiveKey(attr.Key) {
		return slog.String(attr.Key, maskedValue)
	}

	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() != slog.KindGroup {
		return attr
	}

	group := maskAttrs(attr.Value.Group())
	return slog.Attr{Key: attr.Key, Value: slog.GroupValue(group...)}
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if _, ok := piiKeys[key]; ok {
		return true
	}
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}
