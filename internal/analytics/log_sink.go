package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}

	return &LogSink{log: log.With(slog.String("component", "analytics"))}
}

// Capture implements Sink.
func (s *LogSink) Capture(distinctID, event string, props Properties) {
	s.log.Info("analytics event",
		slog.String("visitor", visitorRef(distinctID)),
		slog.String("event", event),
		slog.Group("props", propAttrs(props)...),
	)
}

// Identify implements Sink.
func (s *LogSink) Identify(distinctID string, traits Properties) {
	s.log.Info("analytics identify",
		slog.String("visitor", visitorRef(distinctID)),
		slog.Group("traits", propAttrs(traits)...),
	)
}

// visitorRef stands in for the distinct id, which becomes the visitor's email after Identify.
func visitorRef(distinctID string) string {
	sum := sha256.Sum256([]byte(distinctID))
	return hex.EncodeToString(sum[:8])
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

func propAttrs(props Properties) []any {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, props[k]))
	}
	return attrs
}
