package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/clearity-bot/pkg/config"
)

func TestNewMasksSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{AppEnv: "test", Logger: config.LoggerConfig{Level: "debug", Format: "json"}}

	log := NewWithWriter(cfg, &buf).With(slog.String("token", "secret-token"))
	log.Info("submission queued",
		slog.String("email", "ada@example.com"),
		slog.Group("contact", slog.String("telegram", "@ada"), slog.String("stage", "contact")),
		slog.Int("chaos_level", 7),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "***", entry["token"])
	assert.Equal(t, "***", entry["email"])
	assert.Equal(t, float64(7), entry["chaos_level"])

	contact, ok := entry["contact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "***", contact["telegram"])
	assert.Equal(t, "contact", contact["stage"])
}

func TestIsSensitiveKey(t *testing.T) {
	testCases := map[string]bool{
		"token":         true,
		"BOT_TOKEN":     true,
		"posthog_key":   true,
		"database_dsn":  true,
		"Authorization": true,
		"email":         true,
		"fight_noise":   true,
		"name":          true,
		"distinct_id":   true,
		"stage":         false,
		"chat_id":       false,
		"keyboard":      false,
		"emails_sent":   false,
	}

	for key, want := range testCases {
		key, want := key, want
		t.Run(key, func(t *testing.T) {
			assert.Equal(t, want, isSensitiveKey(key))
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Logger: config.LoggerConfig{Level: "warn", Format: "text"}}

	log := NewWithWriter(cfg, &buf)
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestParseLevel(t *testing.T) {
	testCases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}

	for input, want := range testCases {
		assert.Equal(t, want, ParseLevel(input), input)
	}
}

func TestMiddlewareCorrelationID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc", seen)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	FromContext(WithCorrelationID(context.Background(), "xyz"), base).Info("hello")
	assert.Contains(t, buf.String(), "correlation_id=xyz")
}
