package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/clearity-bot/pkg/logger"
)

const codeUnknown = "unknown"

// Handler logs errors, reports serious ones to Sentry and picks the reply shown to the visitor.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
	recorder      func(code string, severity Severity)
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{log: log, sentryEnabled: sentryEnabled}
}

// WithRecorder registers a callback for every handled error, typically a metrics counter.
func (h *Handler) WithRecorder(fn func(code string, severity Severity)) *Handler {
	h.recorder = fn
	return h
}

// Handle returns the message to show and whether the action may be retried.
// Errors that are not an *AppError are treated as high-severity and non-retryable.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	appErr, known := classify(err)

	attrs := []slog.Attr{
		slog.String("code", appErr.Code),
		slog.String("message", err.Error()),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	msg, level := "application error", slog.LevelError
	if !known {
		msg = "unknown error"
	} else if appErr.Severity == SeverityLow {
		level = slog.LevelWarn
	}
	h.log.LogAttrs(ctx, level, msg, attrs...)

	if h.recorder != nil {
		h.recorder(appErr.Code, appErr.Severity)
	}
	if h.sentryEnabled && appErr.reportable() {
		h.sendToSentry(err, appErr)
	}

	if appErr.UserMessage == "" {
		return defaultUserMessage, appErr.Retryable
	}
	return appErr.UserMessage, appErr.Retryable
}

func classify(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return &AppError{Code: codeUnknown, Severity: SeverityHigh}, false
}

func (e *AppError) reportable() bool {
	return e.Severity == SeverityCritical || e.Severity == SeverityHigh
}

func (h *Handler) sendToSentry(err error, appErr *AppError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("code", appErr.Code)
		if appErr.Severity != "" {
			scope.SetTag("severity", string(appErr.Severity))
		}
		sentry.CaptureException(err)
	})
}
