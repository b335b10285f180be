package funnel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Proton-105/clearity-bot/internal/analytics"
	"github.com/Proton-105/clearity-bot/internal/submission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = time.Second

var testOptions = []string{
	"Share ideas and insights",
	"Participate in product development",
	"Join the community",
	"Spread the signal",
	"Other",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedEvent struct {
	name  string
	props analytics.Properties
}

type recorder struct {
	mu         sync.Mutex
	events     []capturedEvent
	identified []string
	payloads   []submission.Payload
	opened     []string

	stages  chan Snapshot
	effects chan Effect
}

func newRecorder() *recorder {
	return &recorder{
		stages:  make(chan Snapshot, 64),
		effects: make(chan Effect, 64),
	}
}

func (r *recorder) Capture(event string, props analytics.Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, capturedEvent{name: event, props: props})
}

func (r *recorder) Identify(id string, _ analytics.Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identified = append(r.identified, id)
}

func (r *recorder) Dispatch(payload submission.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recorder) Open(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, url)
}

func (r *recorder) StageEntered(s Snapshot)                  { r.stages <- s }
func (r *recorder) EffectStarted(_, _ Stage, effect Effect) { r.effects <- effect }

func (r *recorder) eventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.name)
	}
	return names
}

func (r *recorder) lastEvent() capturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	rec     *recorder
	timing  Timing
	machine *Machine
}

func newHarness(t *testing.T, dispatcher Dispatcher) *harness {
	t.Helper()

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	if dispatcher == nil {
		dispatcher = rec
	}

	timing := DefaultTiming()
	m := NewMachine(Config{
		Clock:         clock,
		Timing:        timing,
		Tracker:       rec,
		Dispatcher:    dispatcher,
		Opener:        rec,
		Observer:      rec,
		Log:           testLogger(),
		IntroLines:    2,
		Options:       testOptions,
		SchedulingURL: "https://calendly.com",
		UserAgent:     "telegram-bot",
	})
	t.Cleanup(m.Close)

	return &harness{t: t, clock: clock, rec: rec, timing: timing, machine: m}
}

// expectStage waits for the observer to report stage.
func (h *harness) expectStage(stage Stage) Snapshot {
	h.t.Helper()

	select {
	case s := <-h.rec.stages:
		require.Equal(h.t, stage, s.Stage)
		return s
	case <-time.After(waitTimeout):
		h.t.Fatalf("timed out waiting for stage %s", stage)
		return Snapshot{}
	}
}

// elapse waits for a pending timer and moves the clock by d.
func (h *harness) elapse(d time.Duration) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(d)
}

func (h *harness) submit(want Stage) {
	h.t.Helper()

	out, err := h.machine.Advance(TriggerSubmit)
	require.NoError(h.t, err)
	require.Equal(h.t, want, out.To)

	if delay := h.timing.EffectDelay(want); delay > 0 {
		require.True(h.t, out.Deferred)
		h.elapse(delay)
	}
}

func (h *harness) toIntro() Snapshot {
	h.t.Helper()

	require.NoError(h.t, h.machine.Start())
	h.expectStage(StagePreBoot)
	h.elapse(h.timing.PreBoot)
	return h.expectStage(StageIntro)
}

func (h *harness) revealIntro(s Snapshot) {
	h.t.Helper()

	for i := 0; i < 2; i++ {
		require.NoError(h.t, h.machine.IntroLineRevealed(s.Visit))
	}
	require.True(h.t, h.machine.Snapshot().ButtonsVisible)
}

func TestMachineHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine

	intro := h.toIntro()
	assert.False(t, intro.ButtonsVisible)
	h.revealIntro(intro)

	_, err := m.Advance(TriggerAccept)
	require.NoError(t, err)
	transition := h.expectStage(StageTransition)

	advanced, err := m.MediaProgress(transition.Visit, time.Second)
	require.NoError(t, err)
	assert.False(t, advanced)
	advanced, err = m.MediaProgress(transition.Visit, h.timing.MediaThreshold)
	require.NoError(t, err)
	assert.True(t, advanced)
	h.expectStage(StageCalibration1)

	require.NoError(t, m.SetChaosLevel(7))
	h.submit(StageCalibration2)
	assert.Equal(t, EffectNeuralPulse, <-h.rec.effects)
	h.expectStage(StageCalibration2)

	require.NoError(t, m.SetFailureRate(3))
	h.submit(StageCalibration2Thinking)
	h.expectStage(StageCalibration2Thinking)
	h.elapse(h.timing.Calibration2Thinking)
	h.expectStage(StageCognition1)

	require.NoError(t, m.SetFightNoise("long walks"))
	h.submit(StageCognition2)
	h.expectStage(StageCognition2)

	require.NoError(t, m.SetAssistance("keep me focused"))
	h.submit(StageCommitment)
	h.expectStage(StageCommitment)

	require.NoError(t, m.ToggleContribution("Join the community"))
	require.NoError(t, m.ToggleContribution("Spread the signal"))
	h.submit(StageContact)
	h.expectStage(StageContact)

	require.NoError(t, m.SetName("Ada"))
	require.NoError(t, m.SetEmail("ada@example.com"))
	require.NoError(t, m.SetTelegram("@ada"))
	out, err := m.Advance(TriggerSubmit)
	require.NoError(t, err)
	require.True(t, out.Deferred)
	assert.True(t, m.Snapshot().Submitting)
	h.elapse(h.timing.EffectFinalThinking)
	h.expectStage(StageFinalThinking)
	assert.False(t, m.Snapshot().Submitting)

	h.elapse(h.timing.FinalThinking)
	final := h.expectStage(StageFinal)
	assert.False(t, final.CallToActionVisible)

	_, err = m.ActivateCallToAction()
	assert.ErrorIs(t, err, ErrActionUnavailable)

	require.NoError(t, m.FinalRevealed(final.Visit))
	url, err := m.ActivateCallToAction()
	require.NoError(t, err)
	assert.Equal(t, "https://calendly.com", url)

	_, err = m.Advance(TriggerSubmit)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []string{
		analytics.EventStageCompleted,
		analytics.EventJourneyStarted,
		analytics.EventStageCompleted,
		analytics.EventCalibration1Submitted,
		analytics.EventCalibration2Submitted,
		analytics.EventStageCompleted,
		analytics.EventCognition1Submitted,
		analytics.EventCognition2Submitted,
		analytics.EventCommitmentSubmitted,
		analytics.EventContactInfoSubmitted,
		analytics.EventStageCompleted,
		analytics.EventAlignmentCallClicked,
		analytics.EventJourneyCompleted,
	}, h.rec.eventNames())

	completed := h.rec.lastEvent()
	assert.Equal(t, 7, completed.props[FieldChaosLevel])
	assert.Equal(t, 3, completed.props[FieldFailureRate])
	assert.Equal(t, []string{"Join the community", "Spread the signal"}, completed.props[FieldContribution])
	assert.Equal(t, 2, completed.props["contributionCount"])
	assert.Equal(t, len("long walks"), completed.props["fightNoiseLength"])
	assert.Equal(t, len("keep me focused"), completed.props["assistanceLength"])

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	assert.Equal(t, []string{"ada@example.com"}, h.rec.identified)
	require.Len(t, h.rec.payloads, 1)
	payload := h.rec.payloads[0]
	assert.Equal(t, 7, payload.ChaosLevel)
	assert.Equal(t, "telegram-bot", payload.UserAgent)
	assert.Equal(t, h.clock.Now().UTC().Add(-h.timing.EffectFinalThinking-h.timing.FinalThinking).Format(time.RFC3339), payload.Timestamp)
	assert.Equal(t, []string{"https://calendly.com"}, h.rec.opened)
}

func TestMachineCallToActionRepeats(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine

	h.machine.mu.Lock()
	h.machine.started = true
	h.machine.enterLocked(StageFinal, StageFinalThinking)
	h.machine.unlockAndFlush()
	final := h.expectStage(StageFinal)

	require.NoError(t, m.FinalRevealed(final.Visit))
	_, err := m.ActivateCallToAction()
	require.NoError(t, err)
	_, err = m.ActivateCallToAction()
	require.NoError(t, err)

	assert.Equal(t, []string{
		analytics.EventAlignmentCallClicked,
		analytics.EventJourneyCompleted,
		analytics.EventAlignmentCallClicked,
	}, h.rec.eventNames())
	assert.True(t, m.Snapshot().CallToActionActivated)
}

func TestMachineDeclineRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine

	intro := h.toIntro()

	_, err := m.Advance(TriggerDecline)
	assert.ErrorIs(t, err, ErrActionUnavailable)

	h.revealIntro(intro)
	_, err = m.Advance(TriggerDecline)
	require.NoError(t, err)
	h.expectStage(StageTerminated)

	_, err = m.Advance(TriggerAccept)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Advance(TriggerRecover)
	require.NoError(t, err)
	again := h.expectStage(StageIntro)
	assert.Equal(t, 0, again.CurrentIntroLine)
	assert.False(t, again.ButtonsVisible)

	assert.ErrorIs(t, m.IntroLineRevealed(intro.Visit), ErrStaleVisit)
	require.NoError(t, m.IntroLineRevealed(again.Visit))
	assert.Equal(t, 1, m.Snapshot().CurrentIntroLine)
	assert.False(t, m.Snapshot().ButtonsVisible)

	assert.Equal(t, []string{
		analytics.EventStageCompleted,
		analytics.EventJourneyDeclined,
		analytics.EventStageEntered,
	}, h.rec.eventNames())
	recovered := h.rec.lastEvent()
	assert.Equal(t, analytics.Properties{"stage": "intro", "previousStage": "terminated"}, recovered.props)
}

func (h *harness) toStage(target Stage) {
	h.t.Helper()

	intro := h.toIntro()
	if target == StageIntro {
		return
	}
	h.revealIntro(intro)

	_, err := h.machine.Advance(TriggerAccept)
	require.NoError(h.t, err)
	h.expectStage(StageTransition)
	h.elapse(h.timing.Transition)
	h.expectStage(StageCalibration1)
	if target == StageCalibration1 {
		return
	}

	h.submit(StageCalibration2)
	h.expectStage(StageCalibration2)
	h.submit(StageCalibration2Thinking)
	h.expectStage(StageCalibration2Thinking)
	h.elapse(h.timing.Calibration2Thinking)
	h.expectStage(StageCognition1)
	if target == StageCognition1 {
		return
	}

	require.NoError(h.t, h.machine.SetFightNoise("x"))
	h.submit(StageCognition2)
	h.expectStage(StageCognition2)
	require.NoError(h.t, h.machine.SetAssistance("y"))
	h.submit(StageCommitment)
	h.expectStage(StageCommitment)
	if target == StageCommitment {
		return
	}

	require.NoError(h.t, h.machine.ToggleContribution("Other"))
	h.submit(StageContact)
	h.expectStage(StageContact)
}

func TestMachineCognition1ValidationGate(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine
	h.toStage(StageCognition1)

	for _, text := range []string{"", "   \t\n"} {
		require.NoError(t, m.SetFightNoise(text))
		out, err := m.Advance(TriggerSubmit)
		verrs, ok := AsValidationErrors(err)
		require.True(t, ok, "expected validation errors, got %v", err)
		assert.Equal(t, MsgResponseRequired, verrs[FieldFightNoise])
		assert.Equal(t, StageCognition1, out.To)
		assert.Equal(t, StageCognition1, m.Stage())
		assert.Equal(t, MsgResponseRequired, m.Snapshot().Errors[FieldFightNoise])
	}

	require.NoError(t, m.SetFightNoise("breathing"))
	assert.Empty(t, m.Snapshot().Errors)

	h.submit(StageCognition2)
	h.expectStage(StageCognition2)
}

func TestMachineCommitmentToggle(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine
	h.toStage(StageCommitment)

	_, err := m.Advance(TriggerSubmit)
	verrs, ok := AsValidationErrors(err)
	require.True(t, ok)
	assert.Equal(t, ValidationErrors{FieldContribution: MsgSelectAtLeastOne}, verrs)

	require.NoError(t, m.ToggleContribution("Spread the signal"))
	assert.Equal(t, []string{"Spread the signal"}, m.Snapshot().Form.Contribution)
	assert.Empty(t, m.Snapshot().Errors)

	require.NoError(t, m.ToggleContribution("Spread the signal"))
	assert.Empty(t, m.Snapshot().Form.Contribution)

	assert.ErrorIs(t, m.ToggleContribution("Buy a yacht"), ErrUnknownOption)
}

func TestMachineToggleOptionUsesSessionOptions(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine
	h.toStage(StageCommitment)

	s := m.Snapshot()
	assert.Equal(t, testOptions, s.Options)

	require.NoError(t, m.ToggleOption(s.Visit, 3))
	assert.Equal(t, []string{"Spread the signal"}, m.Snapshot().Form.Contribution)

	assert.ErrorIs(t, m.ToggleOption(s.Visit, len(testOptions)), ErrUnknownOption)
	assert.ErrorIs(t, m.ToggleOption(s.Visit, -1), ErrUnknownOption)
	assert.ErrorIs(t, m.ToggleOption(s.Visit-1, 0), ErrStaleVisit)
	assert.Equal(t, []string{"Spread the signal"}, m.Snapshot().Form.Contribution)
}

func TestMachineAdvanceVisitRejectsEarlierVisit(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine
	h.toStage(StageCalibration1)

	stale := m.Snapshot().Visit
	h.submit(StageCalibration2)
	h.expectStage(StageCalibration2)

	_, err := m.AdvanceVisit(stale, TriggerSubmit)
	assert.ErrorIs(t, err, ErrStaleVisit)
	assert.Equal(t, StageCalibration2, m.Stage())

	out, err := m.AdvanceVisit(m.Snapshot().Visit, TriggerSubmit)
	require.NoError(t, err)
	assert.Equal(t, StageCalibration2Thinking, out.To)
}

func TestMachineSliderBoundsAndFieldLocks(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine

	assert.ErrorIs(t, m.SetChaosLevel(3), ErrNotStarted)

	h.toStage(StageCalibration1)

	assert.ErrorIs(t, m.SetChaosLevel(11), ErrOutOfRange)
	assert.ErrorIs(t, m.SetChaosLevel(-1), ErrOutOfRange)
	assert.Equal(t, DefaultSliderValue, m.Snapshot().Form.ChaosLevel)

	require.NoError(t, m.SetChaosLevel(0))
	require.NoError(t, m.SetChaosLevel(10))
	assert.Equal(t, 10, m.Snapshot().Form.ChaosLevel)

	assert.ErrorIs(t, m.SetFailureRate(4), ErrFieldLocked)
	assert.ErrorIs(t, m.SetName("Eve"), ErrFieldLocked)

	out, err := m.Advance(TriggerSubmit)
	require.NoError(t, err)
	require.True(t, out.Deferred)
	assert.ErrorIs(t, m.SetChaosLevel(1), ErrTransitionPending)
	_, err = m.Advance(TriggerSubmit)
	assert.ErrorIs(t, err, ErrTransitionPending)
}

type failingSubmitter struct {
	calls chan struct{}
}

func (f *failingSubmitter) Submit(context.Context, submission.Payload) error {
	f.calls <- struct{}{}
	return errors.New("endpoint unreachable")
}

func TestMachineSubmissionFailureDoesNotBlock(t *testing.T) {
	submitter := &failingSubmitter{calls: make(chan struct{}, 1)}
	dispatcher := submission.NewAsyncDispatcher(submitter, time.Second, testLogger())

	h := newHarness(t, dispatcher)
	m := h.machine
	h.toStage(StageContact)

	_, err := m.Advance(TriggerSubmit)
	verrs, ok := AsValidationErrors(err)
	require.True(t, ok)
	assert.Len(t, verrs, 3)

	require.NoError(t, m.SetName("Ada"))
	assert.NotContains(t, m.Snapshot().Errors, FieldName)
	require.NoError(t, m.SetEmail("ada@example.com"))
	require.NoError(t, m.SetTelegram("@ada"))

	out, err := m.Advance(TriggerSubmit)
	require.NoError(t, err)
	assert.Equal(t, StageFinalThinking, out.To)

	_, err = m.Advance(TriggerSubmit)
	assert.ErrorIs(t, err, ErrTransitionPending)

	select {
	case <-submitter.calls:
	case <-time.After(waitTimeout):
		t.Fatal("submission was not attempted")
	}

	h.elapse(h.timing.EffectFinalThinking)
	h.expectStage(StageFinalThinking)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, dispatcher.Wait(ctx))

	contact := h.rec.eventNames()
	assert.Contains(t, contact, analytics.EventContactInfoSubmitted)
}

func TestMachineCloseCancelsTimers(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine

	require.NoError(t, m.Start())
	h.expectStage(StagePreBoot)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	m.Close()
	h.clock.Advance(time.Minute)

	select {
	case s := <-h.rec.stages:
		t.Fatalf("unexpected stage %s after close", s.Stage)
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, StagePreBoot, m.Stage())
	_, err := m.Advance(TriggerElapsed)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Start(), ErrClosed)
}

func TestMachineEarlyElapseCancelsTimer(t *testing.T) {
	h := newHarness(t, nil)
	m := h.machine

	require.NoError(t, m.Start())
	preBoot := h.expectStage(StagePreBoot)

	require.NoError(t, m.Elapse(preBoot.Visit))
	h.expectStage(StageIntro)
	assert.ErrorIs(t, m.Elapse(preBoot.Visit), ErrStaleVisit)

	h.clock.Advance(h.timing.PreBoot)
	select {
	case s := <-h.rec.stages:
		t.Fatalf("stale timer moved machine to %s", s.Stage)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, StageIntro, m.Stage())
}

func TestMachineTransitionRecorder(t *testing.T) {
	var mu sync.Mutex
	var recorded []string
	RegisterTransitionRecorder(func(from, to string) {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, from+"->"+to)
	})
	t.Cleanup(func() { RegisterTransitionRecorder(nil) })

	h := newHarness(t, nil)
	h.toIntro()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"preBoot->intro"}, recorded)
}
