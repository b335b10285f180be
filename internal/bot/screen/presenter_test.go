package screen

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/script"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type frame struct {
	edit   bool
	what   interface{}
	markup *telebot.ReplyMarkup
}

type fakeMessenger struct {
	mu      sync.Mutex
	frames  []frame
	nextID  int
	sendErr error
}

func (f *fakeMessenger) Send(_ telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		if _, ok := what.(string); !ok {
			return nil, f.sendErr
		}
	}

	f.nextID++
	f.frames = append(f.frames, frame{what: what, markup: markupOf(opts)})
	return &telebot.Message{ID: f.nextID}, nil
}

func (f *fakeMessenger) Edit(msg telebot.Editable, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frames = append(f.frames, frame{edit: true, what: what, markup: markupOf(opts)})
	return msg.(*telebot.Message), nil
}

func (f *fakeMessenger) last() frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[len(f.frames)-1]
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		if text, ok := fr.what.(string); ok {
			out = append(out, text)
		}
	}
	return out
}

func markupOf(opts []interface{}) *telebot.ReplyMarkup {
	for _, o := range opts {
		if m, ok := o.(*telebot.ReplyMarkup); ok {
			return m
		}
	}
	return nil
}

func newStore(t *testing.T, override string) *script.Store {
	t.Helper()

	path := ""
	if override != "" {
		path = filepath.Join(t.TempDir(), "script.yaml")
		require.NoError(t, os.WriteFile(path, []byte(override), 0o600))
	}

	store, err := script.NewStore(path, testLogger())
	require.NoError(t, err)
	return store
}

func newPresenter(t *testing.T, clock clockwork.Clock, machine MachineFunc, override string) (*Presenter, *fakeMessenger) {
	t.Helper()

	store := newStore(t, override)
	messenger := &fakeMessenger{}
	opts := DefaultOptions()
	opts.Clock = clock
	opts.EditInterval = time.Hour
	opts.CharDelay = time.Millisecond
	opts.IntroCharDelay = time.Millisecond
	opts.Settle = 0
	opts.CommunityURL = "https://discord.com"

	p := New(&telebot.Chat{ID: 1}, messenger, store, keyboard.NewBuilder(store, testLogger()), machine, opts, testLogger())
	t.Cleanup(p.Close)
	return p, messenger
}

func TestPresenterSliderStage(t *testing.T) {
	p, messenger := newPresenter(t, clockwork.NewFakeClock(), nil, "")

	s := funnel.Snapshot{Stage: funnel.StageCalibration1, Visit: 3, Form: funnel.NewFormState()}
	p.StageEntered(s)

	first := messenger.last()
	assert.False(t, first.edit)
	assert.Contains(t, first.what, "how much chaos")
	require.NotNil(t, first.markup)
	assert.Equal(t, "[5]", first.markup.InlineKeyboard[0][5].Text)

	s.Form.ChaosLevel = 8
	p.Refresh(s)
	second := messenger.last()
	assert.True(t, second.edit)
	assert.Equal(t, "[8]", second.markup.InlineKeyboard[1][2].Text)

	stale := s
	stale.Visit = 2
	before := messenger.count()
	p.Refresh(stale)
	assert.Equal(t, before, messenger.count())
}

func TestPresenterShowsValidationErrors(t *testing.T) {
	p, messenger := newPresenter(t, clockwork.NewFakeClock(), nil, "")

	s := funnel.Snapshot{Stage: funnel.StageContact, Visit: 9, Form: funnel.NewFormState()}
	p.StageEntered(s)

	s.Errors = funnel.ValidationErrors{funnel.FieldName: funnel.MsgNameRequired, funnel.FieldTelegram: funnel.MsgContactMethodRequired}
	p.Refresh(s)

	text := messenger.last().what.(string)
	assert.Contains(t, text, "⚠ name required")
	assert.Contains(t, text, "⚠ contact method required")
	assert.Contains(t, text, "Send your Name as a message.")
}

func TestPresenterEffectRemovesButtons(t *testing.T) {
	p, messenger := newPresenter(t, clockwork.NewFakeClock(), nil, "")

	p.StageEntered(funnel.Snapshot{Stage: funnel.StageCommitment, Visit: 4, Form: funnel.NewFormState()})
	p.EffectStarted(funnel.StageCommitment, funnel.StageContact, funnel.EffectNeuralCircuit)

	last := messenger.last()
	assert.True(t, last.edit)
	assert.Nil(t, last.markup)
	assert.Contains(t, last.what, "neural circuit")
}

func TestPresenterCommitmentUsesSessionOptions(t *testing.T) {
	p, messenger := newPresenter(t, clockwork.NewFakeClock(), nil, "")

	p.StageEntered(funnel.Snapshot{
		Stage:   funnel.StageCommitment,
		Visit:   4,
		Form:    funnel.NewFormState(),
		Options: []string{"Listen", "Build"},
	})

	markup := messenger.last().markup
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Equal(t, "Listen", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "Build", markup.InlineKeyboard[1][0].Text)
}

func TestPresenterAwaiting(t *testing.T) {
	p, _ := newPresenter(t, clockwork.NewFakeClock(), nil, "")

	form := funnel.NewFormState()
	assert.Equal(t, funnel.FieldName, p.Awaiting(form))

	form.Name = "Ada"
	assert.Equal(t, funnel.FieldEmail, p.Awaiting(form))

	p.Await(funnel.FieldTelegram)
	assert.Equal(t, funnel.FieldTelegram, p.Awaiting(form))

	p.Await("")
	form.Email = "ada@example.com"
	form.Telegram = "@ada"
	assert.Equal(t, funnel.FieldName, p.Awaiting(form))
}

func TestPresenterOpenSendsLink(t *testing.T) {
	p, messenger := newPresenter(t, clockwork.NewFakeClock(), nil, "")

	p.Open("https://calendly.com")

	last := messenger.last()
	assert.Equal(t, "https://calendly.com", last.what)
	require.NotNil(t, last.markup)
	assert.Equal(t, "https://calendly.com", last.markup.InlineKeyboard[0][0].URL)
}

func TestPresenterTransitionMediaFailure(t *testing.T) {
	store := newStore(t, "")
	messenger := &fakeMessenger{sendErr: errors.New("bad media")}
	opts := DefaultOptions()
	opts.Clock = clockwork.NewFakeClock()
	opts.TransitionMediaURL = "https://example.com/transition.gif"

	p := New(&telebot.Chat{ID: 1}, messenger, store, keyboard.NewBuilder(store, nil), nil, opts, testLogger())
	defer p.Close()

	p.StageEntered(funnel.Snapshot{Stage: funnel.StageTransition, Visit: 2})

	require.Equal(t, 1, messenger.count())
	assert.Equal(t, "skip:2", messenger.last().markup.InlineKeyboard[0][0].Data)
}

func TestPresenterIntroRevealsButtons(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var machine *funnel.Machine

	p, messenger := newPresenter(t, clock, func() *funnel.Machine { return machine }, "intro:\n  lines:\n    - Hi\n    - Go\n")

	machine = funnel.NewMachine(funnel.Config{
		Clock:      clock,
		Observer:   p,
		IntroLines: 2,
		Log:        testLogger(),
	})
	defer machine.Close()

	require.NoError(t, machine.Start())
	require.NoError(t, machine.Elapse(machine.Snapshot().Visit))
	require.Equal(t, funnel.StageIntro, machine.Stage())

	require.Eventually(t, func() bool {
		clock.Advance(time.Millisecond)
		return machine.Snapshot().ButtonsVisible
	}, 5*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		m := messenger.last().markup
		return m != nil && len(m.InlineKeyboard) == 1 && len(m.InlineKeyboard[0]) == 2
	}, 2*time.Second, 10*time.Millisecond)

	last := messenger.last()
	assert.Equal(t, "Hi\n\nGo", last.what)
	visit := machine.Snapshot().Visit
	assert.Equal(t, keyboard.CallbackIntro+":"+keyboard.VisitData(visit, keyboard.IntroAccept), last.markup.InlineKeyboard[0][0].Data)
}

// advanceUntil steps the fake clock until the screen shows want and returns the time it took.
func advanceUntil(t *testing.T, clock *clockwork.FakeClock, messenger *fakeMessenger, want string) time.Duration {
	t.Helper()

	const tick = 10 * time.Millisecond
	var elapsed time.Duration
	require.Eventually(t, func() bool {
		if messenger.count() > 0 && messenger.last().what == want {
			return true
		}
		clock.Advance(tick)
		elapsed += tick
		return false
	}, 10*time.Second, time.Millisecond)
	return elapsed
}

func TestPresenterThinkingFitsStageTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newStore(t, "")
	messenger := &fakeMessenger{}

	timing := funnel.DefaultTiming()
	opts := DefaultOptions()
	opts.Clock = clock
	opts.Budget = timing.AutoDelay

	p := New(&telebot.Chat{ID: 1}, messenger, store, keyboard.NewBuilder(store, testLogger()), nil, opts, testLogger())
	t.Cleanup(p.Close)

	lines := store.Catalog().Lines(script.KeyFinalThinkingLines)
	require.NotEmpty(t, lines)

	p.StageEntered(funnel.Snapshot{Stage: funnel.StageFinalThinking, Visit: 1})

	elapsed := advanceUntil(t, clock, messenger, lines[len(lines)-1])
	assert.Less(t, elapsed, timing.FinalThinking)
}

func TestPresenterThinkingTypesWithinGenerousBudget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newStore(t, "final_thinking:\n  lines:\n    - ab\n    - cd\n")
	messenger := &fakeMessenger{}

	opts := DefaultOptions()
	opts.Clock = clock
	opts.Budget = func(funnel.Stage) time.Duration { return time.Minute }

	p := New(&telebot.Chat{ID: 1}, messenger, store, keyboard.NewBuilder(store, testLogger()), nil, opts, testLogger())
	t.Cleanup(p.Close)

	p.StageEntered(funnel.Snapshot{Stage: funnel.StageFinalThinking, Visit: 1})

	advanceUntil(t, clock, messenger, "cd")
	assert.Contains(t, messenger.texts(), "a")
}
