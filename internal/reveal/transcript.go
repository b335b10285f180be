package reveal

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// LineSeparator joins accumulated transcript lines.
const LineSeparator = "\n\n"

// Transcript types lines one after another and keeps the finished ones on screen.
type Transcript struct {
	ticker
	charDelay time.Duration
	gap       time.Duration
	render    RenderFunc

	lines  [][]rune
	done   []string
	line   int
	cursor int
}

var _ Reveal = (*Transcript)(nil)

// NewTranscript creates a transcript reveal. gap is the wait between a finished line and the next.
func NewTranscript(clock clockwork.Clock, charDelay, gap time.Duration, render RenderFunc) *Transcript {
	if render == nil {
		render = nopRender
	}
	if charDelay <= 0 {
		charDelay = DefaultCharDelay
	}

	return &Transcript{ticker: newTicker(clock), charDelay: charDelay, gap: gap, render: render}
}

// Start begins typing. onLine(i) is called after line i is fully shown, onComplete after the last.
func (t *Transcript) Start(lines []string, onLine func(i int), onComplete func()) {
	t.mu.Lock()
	epoch := t.restartLocked()
	t.lines = make([][]rune, len(lines))
	for i, l := range lines {
		t.lines[i] = []rune(l)
	}
	t.done = t.done[:0]
	t.line = 0
	t.cursor = 0

	if len(t.lines) == 0 {
		t.mu.Unlock()
		call(onComplete)
		return
	}

	t.typeLocked(epoch, onLine, onComplete)
	t.mu.Unlock()
}

// Text returns everything shown so far.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.textLocked()
}

func (t *Transcript) textLocked() string {
	parts := append([]string(nil), t.done...)
	if t.line < len(t.lines) && t.cursor > 0 {
		parts = append(parts, string(t.lines[t.line][:t.cursor]))
	}
	return strings.Join(parts, LineSeparator)
}

func (t *Transcript) typeLocked(epoch uint64, onLine func(int), onComplete func()) {
	delay := t.charDelay
	if t.cursor == 0 && t.line > 0 {
		delay += t.gap
	}

	t.afterLocked(delay, epoch, func() func() {
		current := t.lines[t.line]
		if len(current) > 0 {
			t.cursor++
			t.render(t.textLocked())
		}
		if t.cursor < len(current) {
			t.typeLocked(epoch, onLine, onComplete)
			return nil
		}

		finished := t.line
		t.done = append(t.done, string(current))
		t.line++
		t.cursor = 0

		last := t.line >= len(t.lines)
		if !last {
			t.typeLocked(epoch, onLine, onComplete)
		}

		return func() {
			if onLine != nil {
				onLine(finished)
			}
			if last {
				call(onComplete)
			}
		}
	})
}
