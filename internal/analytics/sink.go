package analytics

import (
	"errors"
	"sync"
)

// Sink is an analytics backend shared by every session.
type Sink interface {
	Capture(distinctID, event string, props Properties)
	Identify(distinctID string, traits Properties)
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

// Capture implements Sink.
func (NopSink) Capture(string, string, Properties) {}

// Identify implements Sink.
func (NopSink) Identify(string, Properties) {}

// Close implements Sink.
func (NopSink) Close() error { return nil }

// Multi fans out to several sinks.
type Multi []Sink

// Capture implements Sink.
func (m Multi) Capture(distinctID, event string, props Properties) {
	for _, s := range m {
		s.Capture(distinctID, event, props.Clone())
	}
}

// Identify implements Sink.
func (m Multi) Identify(distinctID string, traits Properties) {
	for _, s := range m {
		s.Identify(distinctID, traits.Clone())
	}
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tracker binds a Sink to one visitor. After Identify, events are attributed to the identified id.
type Tracker struct {
	sink Sink

	mu         sync.Mutex
	distinctID string
}

// NewTracker creates a Tracker for the anonymous visitor id.
func NewTracker(sink Sink, distinctID string) *Tracker {
	if sink == nil {
		sink = NopSink{}
	}

	return &Tracker{sink: sink, distinctID: distinctID}
}

// DistinctID returns the id events are currently attributed to.
func (t *Tracker) DistinctID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.distinctID
}

// Capture records event with props.
func (t *Tracker) Capture(event string, props Properties) {
	t.sink.Capture(t.DistinctID(), event, props)
}

// Identify attaches traits to id and switches attribution to it.
func (t *Tracker) Identify(id string, traits Properties) {
	if id == "" {
		return
	}

	t.mu.Lock()
	previous := t.distinctID
	t.distinctID = id
	t.mu.Unlock()

	if traits == nil {
		traits = Properties{}
	} else {
		traits = traits.Clone()
	}
	if previous != "" && previous != id {
		traits["$anon_distinct_id"] = previous
	}

	t.sink.Identify(id, traits)
}
