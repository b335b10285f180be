package reveal

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Sequence shows each line whole for lineDelay, then waits settle before completing.
type Sequence struct {
	ticker
	lineDelay time.Duration
	settle    time.Duration
	render    RenderFunc

	lines []string
	index int
}

var _ Reveal = (*Sequence)(nil)

// NewSequence creates a line-by-line reveal.
func NewSequence(clock clockwork.Clock, lineDelay, settle time.Duration, render RenderFunc) *Sequence {
	if render == nil {
		render = nopRender
	}
	if lineDelay <= 0 {
		lineDelay = DefaultLineDelay
	}
	if settle < 0 {
		settle = 0
	}

	return &Sequence{ticker: newTicker(clock), lineDelay: lineDelay, settle: settle, render: render}
}

// SequenceDuration is the time a Sequence of n lines takes to complete.
func SequenceDuration(n int, lineDelay, settle time.Duration) time.Duration {
	return time.Duration(n)*lineDelay + settle
}

// Start shows the first line immediately.
func (s *Sequence) Start(lines []string, onComplete func()) {
	s.mu.Lock()
	epoch := s.restartLocked()
	s.lines = append([]string(nil), lines...)
	s.index = 0

	if len(s.lines) == 0 {
		s.settleLocked(epoch, onComplete)
		s.mu.Unlock()
		return
	}

	s.render(s.lines[0])
	s.nextLocked(epoch, onComplete)
	s.mu.Unlock()
}

// Index returns the line currently shown.
func (s *Sequence) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Sequence) nextLocked(epoch uint64, onComplete func()) {
	s.afterLocked(s.lineDelay, epoch, func() func() {
		s.index++
		if s.index >= len(s.lines) {
			s.settleLocked(epoch, onComplete)
			return nil
		}

		s.render(s.lines[s.index])
		s.nextLocked(epoch, onComplete)
		return nil
	})
}

func (s *Sequence) settleLocked(epoch uint64, onComplete func()) {
	s.afterLocked(s.settle, epoch, func() func() { return onComplete })
}
