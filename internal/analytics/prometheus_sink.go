package analytics

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSink counts events by name.
type PrometheusSink struct {
	events     *prometheus.CounterVec
	identifies prometheus.Counter
}

// NewPrometheusSink registers the analytics counters with reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_events_total",
				Help: "Total number of analytics events captured labeled by event name",
			},
			[]string{"event"},
		),
		identifies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_identifies_total",
				Help: "Total number of identify calls",
			},
		),
	}

	if reg != nil {
		if err := reg.Register(s.events); err != nil {
			return nil, err
		}
		if err := reg.Register(s.identifies); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Capture implements Sink.
func (s *PrometheusSink) Capture(_ string, event string, _ Properties) {
	if event == "" {
		event = "unknown"
	}
	s.events.WithLabelValues(event).Inc()
}

// Identify implements Sink.
func (s *PrometheusSink) Identify(string, Properties) {
	s.identifies.Inc()
}

// Close implements Sink.
func (s *PrometheusSink) Close() error { return nil }
