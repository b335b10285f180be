package funnel

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Proton-105/clearity-bot/internal/analytics"
	"github.com/Proton-105/clearity-bot/internal/submission"
)

var (
	// ErrInvalidTransition indicates that the trigger is not accepted by the current stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrTransitionPending indicates that an effect window is open and input is ignored.
	ErrTransitionPending = errors.New("stage transition pending")
	// ErrActionUnavailable indicates an action whose control is not shown yet.
	ErrActionUnavailable = errors.New("action unavailable")
	// ErrFieldLocked indicates a write to a field owned by another stage.
	ErrFieldLocked = errors.New("field is not editable in the current stage")
	// ErrStaleVisit indicates a callback issued for a stage visit that already ended.
	ErrStaleVisit = errors.New("stage visit is no longer current")
	// ErrNotStarted indicates a machine that has not been started.
	ErrNotStarted = errors.New("funnel not started")
	// ErrAlreadyStarted indicates a second Start call.
	ErrAlreadyStarted = errors.New("funnel already started")
	// ErrClosed indicates a machine that has been closed.
	ErrClosed = errors.New("funnel closed")
)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe stage transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// Config wires a Machine to its collaborators. Nil collaborators are replaced by no-ops.
type Config struct {
	Clock      clockwork.Clock
	Timing     Timing
	Tracker    Tracker
	Dispatcher Dispatcher
	Opener     Opener
	Observer   Observer
	Log        *slog.Logger

	// IntroLines is the number of intro lines that must be revealed before the choice buttons appear.
	IntroLines int
	// Options are the commitment choices. Empty accepts any option.
	Options       []string
	SchedulingURL string
	UserAgent     string
}

// Outcome describes an accepted trigger.
type Outcome struct {
	From Stage
	To   Stage
	// Deferred is true when To will be entered after an effect window.
	Deferred bool
}

// Snapshot is an immutable view of the machine.
type Snapshot struct {
	Stage Stage
	// Visit identifies the current stage entry; it changes every time a stage is entered.
	Visit                 uint64
	Form                  FormState
	Errors                ValidationErrors
	CurrentIntroLine      int
	ButtonsVisible        bool
	Pending               bool
	Submitting            bool
	CallToActionVisible   bool
	CallToActionActivated bool
	// Options are the commitment options fixed when the session started.
	Options []string
}

// Machine sequences one funnel session. It is safe for concurrent use.
type Machine struct {
	clock      clockwork.Clock
	timing     Timing
	tracker    Tracker
	dispatcher Dispatcher
	opener     Opener
	observer   Observer
	log        *slog.Logger

	introLines    int
	options       []string
	schedulingURL string
	userAgent     string

	mu             sync.Mutex
	stage          Stage
	form           FormState
	errs           ValidationErrors
	introLine      int
	buttonsVisible bool
	ctaVisible     bool
	ctaActivated   bool
	pending        bool
	submitting     bool
	epoch          uint64
	timers         []clockwork.Timer
	started        bool
	closed         bool

	outbox   []func()
	draining bool
}

// NewMachine creates a machine parked before preBoot. Call Start to begin.
func NewMachine(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = nopTracker{}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = nopDispatcher{}
	}
	if cfg.Opener == nil {
		cfg.Opener = nopOpener{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Machine{
		clock:         cfg.Clock,
		timing:        cfg.Timing,
		tracker:       cfg.Tracker,
		dispatcher:    cfg.Dispatcher,
		opener:        cfg.Opener,
		observer:      cfg.Observer,
		log:           cfg.Log,
		introLines:    cfg.IntroLines,
		options:       slices.Clone(cfg.Options),
		schedulingURL: cfg.SchedulingURL,
		userAgent:     cfg.UserAgent,
		form:          NewFormState(),
	}
}

// Start enters preBoot and arms its timer.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}

	m.started = true
	m.enterLocked(StagePreBoot, "")
	return nil
}

// Advance applies trigger to the current stage.
// A failed validation returns ValidationErrors and leaves the stage unchanged.
func (m *Machine) Advance(trigger Trigger) (Outcome, error) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkLocked(); err != nil {
		return Outcome{From: m.stage, To: m.stage}, err
	}

	return m.advanceLocked(trigger)
}

func (m *Machine) advanceLocked(trigger Trigger) (Outcome, error) {
	from := m.stage
	to, ok := Next(from, trigger)
	if !ok {
		return Outcome{From: from, To: from}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, trigger, from)
	}

	if from == StageIntro && !m.buttonsVisible {
		return Outcome{From: from, To: from}, ErrActionUnavailable
	}

	if errs := Validate(from, m.form); len(errs) > 0 {
		m.errs = errs
		m.log.Debug("stage validation failed", slog.String("stage", string(from)), slog.Int("fields", len(errs)))
		return Outcome{From: from, To: from}, errs.Clone()
	}
	m.errs = nil

	m.checkpointLocked(from, to, trigger)
	if from == StageContact {
		m.submitLocked()
	}

	if delay := m.timing.EffectDelay(to); delay > 0 {
		m.pending = true
		effect := EffectFor(from)
		m.queue(func() { m.observer.EffectStarted(from, to, effect) })
		m.scheduleLocked(delay, func() { m.enterLocked(to, from) })
		return Outcome{From: from, To: to, Deferred: true}, nil
	}

	m.enterLocked(to, from)
	return Outcome{From: from, To: to}, nil
}

// AdvanceVisit is Advance for input rendered during visit. Input from an earlier visit
// returns ErrStaleVisit, even when the stage changed an instant before the call.
func (m *Machine) AdvanceVisit(visit uint64, trigger Trigger) (Outcome, error) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkVisitLocked(visit); err != nil {
		return Outcome{From: m.stage, To: m.stage}, err
	}

	return m.advanceLocked(trigger)
}

// Elapse fires the elapsed trigger early for a timer-driven stage visit.
func (m *Machine) Elapse(visit uint64) error {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkVisitLocked(visit); err != nil {
		return err
	}

	_, err := m.advanceLocked(TriggerElapsed)
	return err
}

// IntroLineRevealed records that one more intro line finished revealing.
// The choice buttons become visible after the last line.
func (m *Machine) IntroLineRevealed(visit uint64) error {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkVisitLocked(visit); err != nil {
		return err
	}
	if m.stage != StageIntro {
		return ErrActionUnavailable
	}

	if m.introLine < m.introLines {
		m.introLine++
	}
	if m.introLine >= m.introLines {
		m.buttonsVisible = true
	}
	return nil
}

// FinalRevealed shows the call to action once the final text is fully displayed.
func (m *Machine) FinalRevealed(visit uint64) error {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkVisitLocked(visit); err != nil {
		return err
	}
	if m.stage != StageFinal {
		return ErrActionUnavailable
	}

	m.ctaVisible = true
	return nil
}

// ActivateCallToAction opens the scheduling link and returns it.
// The first activation also records the completed journey.
func (m *Machine) ActivateCallToAction() (string, error) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkLocked(); err != nil {
		return "", err
	}
	if m.stage != StageFinal || !m.ctaVisible {
		return "", ErrActionUnavailable
	}

	m.captureLocked(analytics.EventAlignmentCallClicked, analytics.Properties{"stage": string(StageFinal)})
	if !m.ctaActivated {
		m.ctaActivated = true
		m.captureLocked(analytics.EventJourneyCompleted, m.summaryLocked())
	}

	url := m.schedulingURL
	m.queue(func() { m.opener.Open(url) })
	return url, nil
}

// MediaProgress reports the transition media position. Reaching the threshold ends the stage.
func (m *Machine) MediaProgress(visit uint64, position time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkVisitLocked(visit); err != nil {
		return false, err
	}
	if m.stage != StageTransition || m.timing.MediaThreshold <= 0 || position < m.timing.MediaThreshold {
		return false, nil
	}

	if _, err := m.advanceLocked(TriggerElapsed); err != nil {
		return false, err
	}
	return true, nil
}

// MediaFailed records a playback failure. The transition timer still advances the stage.
func (m *Machine) MediaFailed(err error) {
	m.log.Info("transition media failed", slog.Any("error", err))
}

// SetChaosLevel sets the calibration1 slider.
func (m *Machine) SetChaosLevel(value int) error {
	return m.update(FieldChaosLevel, func(f *FormState) error { return setSlider(&f.ChaosLevel, value) })
}

// SetFailureRate sets the calibration2 slider.
func (m *Machine) SetFailureRate(value int) error {
	return m.update(FieldFailureRate, func(f *FormState) error { return setSlider(&f.FailureRate, value) })
}

// SetFightNoise sets the cognition1 response.
func (m *Machine) SetFightNoise(text string) error {
	return m.update(FieldFightNoise, func(f *FormState) error {
		f.FightNoise = text
		return nil
	})
}

// SetAssistance sets the cognition2 response.
func (m *Machine) SetAssistance(text string) error {
	return m.update(FieldAssistance, func(f *FormState) error {
		f.Assistance = text
		return nil
	})
}

// ToggleContribution selects or deselects a commitment option.
func (m *Machine) ToggleContribution(option string) error {
	return m.update(FieldContribution, func(f *FormState) error {
		if len(m.options) > 0 && !slices.Contains(m.options, option) {
			return fmt.Errorf("%w: %q", ErrUnknownOption, option)
		}
		f.Toggle(option)
		return nil
	})
}

// ToggleOption toggles the commitment option at index among the options the session started with.
func (m *Machine) ToggleOption(visit uint64, index int) error {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkVisitLocked(visit); err != nil {
		return err
	}
	return m.updateLocked(FieldContribution, func(f *FormState) error {
		if index < 0 || index >= len(m.options) {
			return fmt.Errorf("%w: index %d", ErrUnknownOption, index)
		}
		f.Toggle(m.options[index])
		return nil
	})
}

// SetName sets the contact name.
func (m *Machine) SetName(text string) error {
	return m.update(FieldName, func(f *FormState) error {
		f.Name = text
		return nil
	})
}

// SetEmail sets the primary contact.
func (m *Machine) SetEmail(text string) error {
	return m.update(FieldEmail, func(f *FormState) error {
		f.Email = text
		return nil
	})
}

// SetTelegram sets the secondary contact.
func (m *Machine) SetTelegram(text string) error {
	return m.update(FieldTelegram, func(f *FormState) error {
		f.Telegram = text
		return nil
	})
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Stage returns the active stage.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Close cancels every pending timer. It is safe to call more than once.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.epoch++
	m.stopTimersLocked()
}

func (m *Machine) update(field string, apply func(f *FormState) error) error {
	m.mu.Lock()
	defer m.unlockAndFlush()

	if err := m.checkLocked(); err != nil {
		return err
	}
	return m.updateLocked(field, apply)
}

func (m *Machine) updateLocked(field string, apply func(f *FormState) error) error {
	if owner, ok := OwnerOf(field); !ok || owner != m.stage {
		return fmt.Errorf("%w: %s in %s", ErrFieldLocked, field, m.stage)
	}

	if err := apply(&m.form); err != nil {
		return err
	}
	delete(m.errs, field)
	return nil
}

func (m *Machine) checkLocked() error {
	switch {
	case m.closed:
		return ErrClosed
	case !m.started:
		return ErrNotStarted
	case m.pending:
		return ErrTransitionPending
	default:
		return nil
	}
}

func (m *Machine) checkVisitLocked(visit uint64) error {
	if err := m.checkLocked(); err != nil {
		return err
	}
	if visit != m.epoch {
		return ErrStaleVisit
	}
	return nil
}

func (m *Machine) enterLocked(to, from Stage) {
	m.epoch++
	m.stopTimersLocked()

	m.stage = to
	m.pending = false
	m.submitting = false
	m.errs = nil

	switch to {
	case StageIntro:
		m.introLine = 0
		m.buttonsVisible = m.introLines <= 0
	case StageFinal:
		m.ctaVisible = false
	}

	if from != "" {
		transitionRecorder(string(from), string(to))
	}
	m.log.Debug("stage entered", slog.String("stage", string(to)), slog.String("from", string(from)))

	snapshot := m.snapshotLocked()
	m.queue(func() { m.observer.StageEntered(snapshot) })

	if to.TimerDriven() {
		if delay := m.timing.AutoDelay(to); delay > 0 {
			m.scheduleLocked(delay, func() {
				if _, err := m.advanceLocked(TriggerElapsed); err != nil {
					m.log.Warn("timed stage did not advance", slog.String("stage", string(m.stage)), slog.Any("error", err))
				}
			})
		}
	}
}

// scheduleLocked runs fn under the lock after d unless the stage visit has ended by then.
func (m *Machine) scheduleLocked(d time.Duration, fn func()) {
	epoch := m.epoch
	timer := m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.unlockAndFlush()

		if m.closed || m.epoch != epoch {
			return
		}
		fn()
	})
	m.timers = append(m.timers, timer)
}

func (m *Machine) stopTimersLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

func (m *Machine) checkpointLocked(from, to Stage, trigger Trigger) {
	props := analytics.Properties{"stage": string(from)}
	var event string

	switch {
	case from == StageIntro && trigger == TriggerAccept:
		event = analytics.EventJourneyStarted
	case from == StageIntro && trigger == TriggerDecline:
		event = analytics.EventJourneyDeclined
	case from == StageTerminated && trigger == TriggerRecover:
		event = analytics.EventStageEntered
		props = analytics.Properties{"stage": string(to), "previousStage": string(from)}
	case from.TimerDriven():
		event = analytics.EventStageCompleted
		props["nextStage"] = string(to)
	case from == StageCalibration1:
		event = analytics.EventCalibration1Submitted
		props[FieldChaosLevel] = m.form.ChaosLevel
	case from == StageCalibration2:
		event = analytics.EventCalibration2Submitted
		props[FieldFailureRate] = m.form.FailureRate
	case from == StageCognition1:
		event = analytics.EventCognition1Submitted
		props["responseLength"] = len([]rune(m.form.FightNoise))
	case from == StageCognition2:
		event = analytics.EventCognition2Submitted
		props["responseLength"] = len([]rune(m.form.Assistance))
	case from == StageCommitment:
		event = analytics.EventCommitmentSubmitted
		props["selectionCount"] = len(m.form.Contribution)
		props["selections"] = slices.Clone(m.form.Contribution)
	case from == StageContact:
		event = analytics.EventContactInfoSubmitted
		props["hasName"] = strings.TrimSpace(m.form.Name) != ""
		props["hasEmail"] = strings.TrimSpace(m.form.Email) != ""
		props["hasTelegram"] = strings.TrimSpace(m.form.Telegram) != ""
	default:
		return
	}

	m.captureLocked(event, props)
}

func (m *Machine) captureLocked(event string, props analytics.Properties) {
	m.queue(func() { m.tracker.Capture(event, props) })
}

func (m *Machine) submitLocked() {
	m.submitting = true

	form := m.form.Clone()
	payload := submission.Payload{
		ChaosLevel:   form.ChaosLevel,
		FailureRate:  form.FailureRate,
		FightNoise:   form.FightNoise,
		Assistance:   form.Assistance,
		Contribution: form.Contribution,
		Name:         form.Name,
		Email:        form.Email,
		Telegram:     form.Telegram,
		Timestamp:    m.clock.Now().UTC().Format(time.RFC3339),
		UserAgent:    m.userAgent,
	}
	id := strings.TrimSpace(form.Email)
	traits := analytics.Properties{
		FieldName:     strings.TrimSpace(form.Name),
		FieldEmail:    id,
		FieldTelegram: strings.TrimSpace(form.Telegram),
	}

	m.queue(func() {
		m.tracker.Identify(id, traits)
		m.dispatcher.Dispatch(payload)
	})
}

func (m *Machine) summaryLocked() analytics.Properties {
	return analytics.Properties{
		"stage":             string(StageFinal),
		FieldChaosLevel:     m.form.ChaosLevel,
		FieldFailureRate:    m.form.FailureRate,
		FieldContribution:   slices.Clone(m.form.Contribution),
		"contributionCount": len(m.form.Contribution),
		"fightNoiseLength":  len([]rune(m.form.FightNoise)),
		"assistanceLength":  len([]rune(m.form.Assistance)),
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Stage:                 m.stage,
		Visit:                 m.epoch,
		Form:                  m.form.Clone(),
		Errors:                m.errs.Clone(),
		CurrentIntroLine:      m.introLine,
		ButtonsVisible:        m.buttonsVisible,
		Pending:               m.pending,
		Submitting:            m.submitting,
		CallToActionVisible:   m.ctaVisible,
		CallToActionActivated: m.ctaActivated,
		Options:               slices.Clone(m.options),
	}
}

// queue defers fn until the lock is released.
func (m *Machine) queue(fn func()) {
	m.outbox = append(m.outbox, fn)
}

// unlockAndFlush releases the lock and delivers queued callbacks in order.
// Only one goroutine delivers at a time; callbacks queued meanwhile are picked up by it.
func (m *Machine) unlockAndFlush() {
	if m.draining {
		m.mu.Unlock()
		return
	}

	m.draining = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
