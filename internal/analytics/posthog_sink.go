package analytics

import (
	"fmt"
	"log/slog"

	"github.com/posthog/posthog-go"
)

// PostHogConfig configures the PostHog sink.
type PostHogConfig struct {
	APIKey   string
	Endpoint string
}

// PostHogSink forwards events to PostHog.
type PostHogSink struct {
	client posthog.Client
	log    *slog.Logger
}

// NewPostHogSink creates a PostHog client.
func NewPostHogSink(cfg PostHogConfig, log *slog.Logger) (*PostHogSink, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("posthog: api key is required")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{Endpoint: cfg.Endpoint})
	if err != nil {
		return nil, fmt.Errorf("posthog: create client: %w", err)
	}

	return newPostHogSink(client, log), nil
}

func newPostHogSink(client posthog.Client, log *slog.Logger) *PostHogSink {
	return &PostHogSink{client: client, log: log}
}

// Capture implements Sink.
func (s *PostHogSink) Capture(distinctID, event string, props Properties) {
	err := s.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: toPostHog(props),
	})
	if err != nil {
		s.log.Warn("posthog capture failed", slog.String("event", event), slog.Any("error", err))
	}
}

// Identify implements Sink.
func (s *PostHogSink) Identify(distinctID string, traits Properties) {
	err := s.client.Enqueue(posthog.Identify{
		DistinctId: distinctID,
		Properties: toPostHog(traits),
	})
	if err != nil {
		s.log.Warn("posthog identify failed", slog.Any("error", err))
	}
}

// Close flushes pending events.
func (s *PostHogSink) Close() error {
	return s.client.Close()
}

func toPostHog(props Properties) posthog.Properties {
	out := posthog.NewProperties()
	for k, v := range props {
		out.Set(k, v)
	}
	return out
}
