// Package reveal presents scripted text progressively: character by character, line by line, or both.
//
// Every reveal owns its cursor and a single pending timer. Render callbacks run while the
// reveal holds its lock, so a stopped or restarted reveal never renders a stale frame;
// they must not call back into the same reveal. Completion callbacks run without the lock.
package reveal

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reference timings.
const (
	DefaultCharDelay      = 30 * time.Millisecond
	DefaultIntroCharDelay = 40 * time.Millisecond
	DefaultLineDelay      = 1500 * time.Millisecond
	DefaultSettle         = 500 * time.Millisecond
	DefaultPause          = 1200 * time.Millisecond
)

// RenderFunc displays the currently revealed text.
type RenderFunc func(text string)

// Reveal is the control surface shared by every mode.
type Reveal interface {
	// Stop cancels the pending tick. Callbacks scheduled before Stop become no-ops.
	Stop()
}

// ticker serialises the timer chain of one reveal.
type ticker struct {
	clock clockwork.Clock

	mu    sync.Mutex
	epoch uint64
	timer clockwork.Timer
}

func newTicker(clock clockwork.Clock) ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return ticker{clock: clock}
}

// restartLocked cancels the running chain and returns the epoch of a new one.
func (t *ticker) restartLocked() uint64 {
	t.stopLocked()
	return t.epoch
}

func (t *ticker) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.epoch++
}

// Stop cancels the running chain.
func (t *ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// afterLocked runs step under the lock after d when epoch is still current.
// A non-nil function returned by step is called after the lock is released.
func (t *ticker) afterLocked(d time.Duration, epoch uint64, step func() func()) {
	t.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.epoch != epoch {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		after := step()
		t.mu.Unlock()

		if after != nil {
			after()
		}
	})
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func nopRender(string) {}
