package reveal

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Typewriter reveals one rune per tick.
type Typewriter struct {
	ticker
	delay  time.Duration
	render RenderFunc

	text   []rune
	cursor int
}

var _ Reveal = (*Typewriter)(nil)

// NewTypewriter creates a Typewriter ticking every delay.
func NewTypewriter(clock clockwork.Clock, delay time.Duration, render RenderFunc) *Typewriter {
	if render == nil {
		render = nopRender
	}
	if delay <= 0 {
		delay = DefaultCharDelay
	}

	return &Typewriter{ticker: newTicker(clock), delay: delay, render: render}
}

// Start reveals text from the beginning, cancelling any reveal in progress.
// onComplete is called once when the whole text is shown.
func (w *Typewriter) Start(text string, onComplete func()) {
	w.mu.Lock()
	epoch := w.restartLocked()
	w.text = []rune(text)
	w.cursor = 0

	if len(w.text) == 0 {
		w.render("")
		w.mu.Unlock()
		call(onComplete)
		return
	}

	w.tickLocked(epoch, onComplete)
	w.mu.Unlock()
}

// Revealed returns the text shown so far.
func (w *Typewriter) Revealed() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.text[:w.cursor])
}

func (w *Typewriter) tickLocked(epoch uint64, onComplete func()) {
	w.afterLocked(w.delay, epoch, func() func() {
		w.cursor++
		w.render(string(w.text[:w.cursor]))

		if w.cursor >= len(w.text) {
			return onComplete
		}
		w.tickLocked(epoch, onComplete)
		return nil
	})
}
