package funnel

import (
	"github.com/Proton-105/clearity-bot/internal/analytics"
	"github.com/Proton-105/clearity-bot/internal/submission"
)

// Tracker receives analytics checkpoints for a single session.
type Tracker interface {
	Capture(event string, props analytics.Properties)
	Identify(id string, traits analytics.Properties)
}

// Dispatcher delivers a submission without blocking the caller.
type Dispatcher interface {
	Dispatch(payload submission.Payload)
}

// Opener opens the external scheduling link.
type Opener interface {
	Open(url string)
}

// Observer is notified about changes the rendering layer must show.
// Callbacks run outside the machine lock and may call back into the machine.
type Observer interface {
	// StageEntered is called once per stage entry with a snapshot taken at entry.
	StageEntered(snapshot Snapshot)
	// EffectStarted is called when a transition effect window opens.
	EffectStarted(from, to Stage, effect Effect)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(url string)

// Open calls f(url).
func (f OpenerFunc) Open(url string) { f(url) }

type nopTracker struct{}

func (nopTracker) Capture(string, analytics.Properties)  {}
func (nopTracker) Identify(string, analytics.Properties) {}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(submission.Payload) {}

type nopOpener struct{}

func (nopOpener) Open(string) {}

type nopObserver struct{}

func (nopObserver) StageEntered(Snapshot)              {}
func (nopObserver) EffectStarted(Stage, Stage, Effect) {}
