package reveal

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// TypingThinking types each line, pauses, replaces it with the next one and settles after the last.
type TypingThinking struct {
	ticker
	charDelay time.Duration
	pause     time.Duration
	settle    time.Duration
	render    RenderFunc

	lines  [][]rune
	line   int
	cursor int
}

var _ Reveal = (*TypingThinking)(nil)

// NewTypingThinking creates a combined reveal.
func NewTypingThinking(clock clockwork.Clock, charDelay, pause, settle time.Duration, render RenderFunc) *TypingThinking {
	if render == nil {
		render = nopRender
	}
	if charDelay <= 0 {
		charDelay = DefaultCharDelay
	}

	return &TypingThinking{
		ticker:    newTicker(clock),
		charDelay: charDelay,
		pause:     pause,
		settle:    settle,
		render:    render,
	}
}

// TypingThinkingDuration is the time a TypingThinking over lines takes to complete.
func TypingThinkingDuration(lines []string, charDelay, pause, settle time.Duration) time.Duration {
	if charDelay <= 0 {
		charDelay = DefaultCharDelay
	}

	total := settle
	for _, l := range lines {
		total += time.Duration(len([]rune(l)))*charDelay + pause
	}
	return total
}

// Start begins typing the first line.
func (r *TypingThinking) Start(lines []string, onComplete func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	epoch := r.restartLocked()
	r.lines = make([][]rune, len(lines))
	for i, l := range lines {
		r.lines[i] = []rune(l)
	}
	r.line = 0
	r.cursor = 0

	r.stepLocked(epoch, onComplete)
}

func (r *TypingThinking) stepLocked(epoch uint64, onComplete func()) {
	if r.line >= len(r.lines) {
		r.afterLocked(r.settle, epoch, func() func() { return onComplete })
		return
	}

	current := r.lines[r.line]
	if r.cursor >= len(current) {
		r.afterLocked(r.pause, epoch, func() func() {
			r.line++
			r.cursor = 0
			r.stepLocked(epoch, onComplete)
			return nil
		})
		return
	}

	r.afterLocked(r.charDelay, epoch, func() func() {
		r.cursor++
		r.render(string(current[:r.cursor]))
		r.stepLocked(epoch, onComplete)
		return nil
	})
}
