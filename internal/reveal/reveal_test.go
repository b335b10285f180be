package reveal

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = time.Second

// step waits for a pending timer and advances the fake clock by d.
func step(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(d)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func assertQuiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTypewriterRevealsOneRunePerTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := make(chan string, 8)
	done := make(chan struct{}, 2)

	w := NewTypewriter(clock, 10*time.Millisecond, func(s string) { frames <- s })
	w.Start("ABC", func() { done <- struct{}{} })

	for _, want := range []string{"A", "AB", "ABC"} {
		step(t, clock, 10*time.Millisecond)
		assert.Equal(t, want, recv(t, frames))
	}

	recv(t, done)
	assert.Equal(t, "ABC", w.Revealed())

	clock.Advance(time.Second)
	assertQuiet(t, done)
	assertQuiet(t, frames)
}

func TestTypewriterRestartResetsCursor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := make(chan string, 8)
	completions := make(chan string, 4)

	w := NewTypewriter(clock, 10*time.Millisecond, func(s string) { frames <- s })
	w.Start("hello", func() { completions <- "hello" })

	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "h", recv(t, frames))

	w.Start("ok", func() { completions <- "ok" })
	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "o", recv(t, frames))
	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "ok", recv(t, frames))

	assert.Equal(t, "ok", recv(t, completions))
	assertQuiet(t, completions)
}

func TestTypewriterStopCancelsPendingTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := make(chan string, 8)

	w := NewTypewriter(clock, 10*time.Millisecond, func(s string) { frames <- s })
	w.Start("abc", func() { t.Error("completed after stop") })

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	w.Stop()
	clock.Advance(time.Second)
	assertQuiet(t, frames)
	assert.Empty(t, w.Revealed())
}

func TestTypewriterEmptyTextCompletesImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	completed := 0

	w := NewTypewriter(clock, 10*time.Millisecond, nil)
	w.Start("", func() { completed++ })

	assert.Equal(t, 1, completed)
}

func TestSequenceShowsEachLineForLineDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := make(chan string, 8)
	done := make(chan struct{}, 2)

	s := NewSequence(clock, 1500*time.Millisecond, 500*time.Millisecond, func(line string) { frames <- line })
	s.Start([]string{"one", "two", "three"}, func() { done <- struct{}{} })

	assert.Equal(t, "one", recv(t, frames))
	step(t, clock, 1500*time.Millisecond)
	assert.Equal(t, "two", recv(t, frames))
	step(t, clock, 1500*time.Millisecond)
	assert.Equal(t, "three", recv(t, frames))

	step(t, clock, 1500*time.Millisecond)
	assertQuiet(t, done)

	step(t, clock, 500*time.Millisecond)
	recv(t, done)
	assert.Equal(t, 5*time.Second, SequenceDuration(3, 1500*time.Millisecond, 500*time.Millisecond))
}

func TestTypingThinking(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := make(chan string, 16)
	done := make(chan struct{}, 2)

	r := NewTypingThinking(clock, 10*time.Millisecond, 100*time.Millisecond, 50*time.Millisecond, func(s string) { frames <- s })
	r.Start([]string{"ab", "c"}, func() { done <- struct{}{} })

	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "a", recv(t, frames))
	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "ab", recv(t, frames))

	step(t, clock, 100*time.Millisecond)
	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "c", recv(t, frames))

	step(t, clock, 100*time.Millisecond)
	assertQuiet(t, done)
	step(t, clock, 50*time.Millisecond)
	recv(t, done)
}

func TestTypingThinkingDuration(t *testing.T) {
	got := TypingThinkingDuration([]string{"ab", "ç"}, 10*time.Millisecond, 100*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, 30*time.Millisecond+200*time.Millisecond+50*time.Millisecond, got)
}

func TestTranscriptAccumulatesLines(t *testing.T) {
	clock := clockwork.NewFakeClock()
	frames := make(chan string, 16)
	lines := make(chan int, 4)
	done := make(chan struct{}, 2)

	tr := NewTranscript(clock, 10*time.Millisecond, 0, func(s string) { frames <- s })
	tr.Start([]string{"hi", "yo"}, func(i int) { lines <- i }, func() { done <- struct{}{} })

	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "h", recv(t, frames))
	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "hi", recv(t, frames))
	assert.Equal(t, 0, recv(t, lines))

	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "hi\n\ny", recv(t, frames))
	step(t, clock, 10*time.Millisecond)
	assert.Equal(t, "hi\n\nyo", recv(t, frames))
	assert.Equal(t, 1, recv(t, lines))

	recv(t, done)
	assert.Equal(t, "hi\n\nyo", tr.Text())
}
