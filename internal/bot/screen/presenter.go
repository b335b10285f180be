// Package screen renders funnel stages into Telegram messages.
//
// Each stage entry sends a new message; reveals and later refreshes edit it in place.
// Animated frames are rate limited, final frames are always delivered.
package screen

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/reveal"
	"github.com/Proton-105/clearity-bot/internal/script"
)

// Messenger is the subset of the Telegram API the presenter needs.
type Messenger interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
	Edit(msg telebot.Editable, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Options tunes rendering.
type Options struct {
	Clock clockwork.Clock
	// EditInterval is the minimum gap between animated edits of one message.
	EditInterval time.Duration

	CharDelay      time.Duration
	IntroCharDelay time.Duration
	LineDelay      time.Duration
	Settle         time.Duration
	Pause          time.Duration

	// Budget returns how long a timer-driven stage stays on screen. Nil means unbounded.
	Budget func(funnel.Stage) time.Duration

	TransitionMediaURL string
	CommunityURL       string
}

// DefaultOptions returns the reference reveal timings.
func DefaultOptions() Options {
	return Options{
		EditInterval:   time.Second,
		CharDelay:      reveal.DefaultCharDelay,
		IntroCharDelay: reveal.DefaultIntroCharDelay,
		LineDelay:      reveal.DefaultLineDelay,
		Settle:         reveal.DefaultSettle,
		Pause:          reveal.DefaultPause,
	}
}

// MachineFunc returns the machine the presenter drives, or nil once the session is gone.
type MachineFunc func() *funnel.Machine

// Presenter renders one session. It implements funnel.Observer and funnel.Opener.
type Presenter struct {
	chat      telebot.Recipient
	messenger Messenger
	script    *script.Store
	keys      *keyboard.Builder
	machine   MachineFunc
	opts      Options
	log       *slog.Logger

	limiter *rate.Limiter

	mu       sync.Mutex
	visit    uint64
	active   reveal.Reveal
	awaiting string
	closed   bool

	outMu  sync.Mutex
	screen *telebot.Message
}

var (
	_ funnel.Observer = (*Presenter)(nil)
	_ funnel.Opener   = (*Presenter)(nil)
)

// New creates a Presenter for chat.
func New(chat telebot.Recipient, messenger Messenger, store *script.Store, keys *keyboard.Builder, machine MachineFunc, opts Options, log *slog.Logger) *Presenter {
	if log == nil {
		log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.EditInterval <= 0 {
		opts.EditInterval = time.Second
	}
	if machine == nil {
		machine = func() *funnel.Machine { return nil }
	}

	return &Presenter{
		chat:      chat,
		messenger: messenger,
		script:    store,
		keys:      keys,
		machine:   machine,
		opts:      opts,
		log:       log,
		limiter:   rate.NewLimiter(rate.Every(opts.EditInterval), 1),
	}
}

// StageEntered starts a new screen for the stage.
func (p *Presenter) StageEntered(s funnel.Snapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	previous := p.active
	p.active = nil
	p.visit = s.Visit
	p.awaiting = ""
	p.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	p.outMu.Lock()
	p.screen = nil
	p.outMu.Unlock()

	c := p.script.Catalog()
	switch s.Stage {
	case funnel.StagePreBoot:
		p.playBoot(s, c)
	case funnel.StageIntro:
		p.playIntro(s, c)
	case funnel.StageTransition:
		p.showTransition(s, c)
	case funnel.StageCalibration2Thinking:
		p.playThinking(s, c.Lines(script.KeyCalibration2Thinking))
	case funnel.StageFinalThinking:
		p.playThinking(s, c.Lines(script.KeyFinalThinkingLines))
	case funnel.StageFinal:
		p.playFinal(s, c)
	default:
		p.Refresh(s)
	}
}

// EffectStarted replaces the screen with the effect caption and removes its buttons.
func (p *Presenter) EffectStarted(from, _ funnel.Stage, effect funnel.Effect) {
	if effect == funnel.EffectNone {
		return
	}

	c := p.script.Catalog()
	text := prompt(c, from)
	if caption := c.Text(script.EffectKey(string(effect))); caption != script.EffectKey(string(effect)) {
		text = joinBlocks(text, caption)
	}
	p.show(text, nil)
}

// Refresh redraws the current screen of an input stage from s.
func (p *Presenter) Refresh(s funnel.Snapshot) {
	if !p.current(s.Visit) {
		return
	}

	c := p.script.Catalog()
	text := prompt(c, s.Stage)

	var (
		markup *telebot.ReplyMarkup
		err    error
	)

	switch s.Stage {
	case funnel.StageTerminated:
		text = c.Text(script.KeyTerminatedText)
		markup, err = p.keys.Recover(s.Visit)
	case funnel.StageIntro:
		text = strings.Join(c.Lines(script.KeyIntroLines), reveal.LineSeparator)
		if s.ButtonsVisible {
			markup, err = p.keys.IntroChoice(s.Visit)
		}
	case funnel.StageCalibration1:
		markup, err = p.keys.Slider(s.Visit, s.Form.ChaosLevel)
	case funnel.StageCalibration2:
		markup, err = p.keys.Slider(s.Visit, s.Form.FailureRate)
	case funnel.StageCognition1:
		text = joinBlocks(text, answerOrHint(s.Form.FightNoise, c.Text(script.KeyCognition1Hint)))
		markup, err = p.keys.Submit(s.Visit)
	case funnel.StageCognition2:
		text = joinBlocks(text, answerOrHint(s.Form.Assistance, c.Text(script.KeyCognition2Hint)))
		markup, err = p.keys.Submit(s.Visit)
	case funnel.StageCommitment:
		options := s.Options
		if len(options) == 0 {
			options = c.Lines(script.KeyCommitmentOptions)
		}
		markup, err = p.keys.Options(s.Visit, options, s.Form.Contribution)
	case funnel.StageContact:
		field := p.Awaiting(s.Form)
		if s.Submitting {
			text = joinBlocks(text, c.Text(script.KeyContactSubmitting))
			break
		}
		text = joinBlocks(text, c.Textf(script.KeyContactAsk, c.Text(script.ContactFieldKey(field))))
		markup, err = p.keys.Contact(s.Visit, s.Form, field)
	case funnel.StageFinal:
		text = joinBlocks(c.Text(script.KeyFinalText), c.Text(script.KeyFinalFooter))
		if s.CallToActionVisible {
			markup, err = p.keys.CallToAction(s.Visit, p.opts.CommunityURL)
		}
	}

	if err != nil {
		p.log.Error("failed to build keyboard", slog.String("stage", string(s.Stage)), slog.Any("error", err))
	}

	p.show(joinBlocks(text, formatErrors(s.Errors)), markup)
}

// Open sends the scheduling link as a button.
func (p *Presenter) Open(url string) {
	if url == "" {
		return
	}

	markup, err := p.keys.Link(p.script.Catalog().Text(script.KeyFinalCTA), url)
	if err != nil {
		p.log.Error("failed to build link keyboard", slog.Any("error", err))
		return
	}

	if _, err := p.messenger.Send(p.chat, url, markup); err != nil {
		p.log.Warn("failed to send scheduling link", slog.Any("error", err))
	}
}

// Await selects the contact field the next text message fills. An empty field resets the choice.
func (p *Presenter) Await(field string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awaiting = field
}

// Awaiting returns the selected contact field, or the first empty one.
func (p *Presenter) Awaiting(form funnel.FormState) string {
	p.mu.Lock()
	field := p.awaiting
	p.mu.Unlock()

	if field != "" {
		return field
	}

	values := map[string]string{
		funnel.FieldName:     form.Name,
		funnel.FieldEmail:    form.Email,
		funnel.FieldTelegram: form.Telegram,
	}
	for _, f := range keyboard.ContactFields {
		if strings.TrimSpace(values[f]) == "" {
			return f
		}
	}
	return keyboard.ContactFields[0]
}

// Close stops any running reveal. Later callbacks are ignored.
func (p *Presenter) Close() {
	p.mu.Lock()
	p.closed = true
	active := p.active
	p.active = nil
	p.mu.Unlock()

	if active != nil {
		active.Stop()
	}
}

func (p *Presenter) playBoot(s funnel.Snapshot, c *script.Catalog) {
	var shown []string
	seq := reveal.NewSequence(p.opts.Clock, p.opts.LineDelay, p.opts.Settle, func(line string) {
		shown = append(shown, line)
		p.frame(strings.Join(shown, "\n"))
	})
	if !p.activate(s.Visit, seq) {
		return
	}

	lines := c.Lines(script.KeyBootLines)
	p.show(pending(c), nil)
	seq.Start(lines, func() {
		if p.current(s.Visit) {
			p.show(strings.Join(lines, "\n"), nil)
		}
	})
}

func (p *Presenter) playIntro(s funnel.Snapshot, c *script.Catalog) {
	tr := reveal.NewTranscript(p.opts.Clock, p.opts.IntroCharDelay, p.opts.Settle, p.frame)
	if !p.activate(s.Visit, tr) {
		return
	}

	p.show(pending(c), nil)
	tr.Start(c.Lines(script.KeyIntroLines),
		func(int) {
			if m := p.machine(); m != nil {
				p.ignoreStale(m.IntroLineRevealed(s.Visit))
			}
		},
		func() {
			if m := p.machine(); m != nil {
				p.Refresh(m.Snapshot())
			}
		},
	)
}

func (p *Presenter) showTransition(s funnel.Snapshot, c *script.Catalog) {
	markup, err := p.keys.Skip(s.Visit)
	if err != nil {
		p.log.Error("failed to build keyboard", slog.Any("error", err))
	}
	p.show(c.Text(script.KeyTransitionText), markup)

	if p.opts.TransitionMediaURL == "" {
		return
	}

	media := &telebot.Animation{File: telebot.FromURL(p.opts.TransitionMediaURL)}
	if _, err := p.messenger.Send(p.chat, media); err != nil {
		if m := p.machine(); m != nil {
			m.MediaFailed(err)
		}
	}
}

func (p *Presenter) playThinking(s funnel.Snapshot, lines []string) {
	r := p.thinkingReveal(s.Stage, lines)
	if !p.activate(s.Visit, r) {
		return
	}

	p.show(pending(p.script.Catalog()), nil)
	r.Start(lines, func() {
		if p.current(s.Visit) && len(lines) > 0 {
			p.show(lines[len(lines)-1], nil)
		}
	})
}

// lineReveal plays an ordered list of lines.
type lineReveal interface {
	reveal.Reveal
	Start(lines []string, onComplete func())
}

// thinkingReveal types the lines when that finishes within the stage budget. Otherwise it shows
// whole lines, shortening the line delay so the last one is up before the stage moves on.
func (p *Presenter) thinkingReveal(stage funnel.Stage, lines []string) lineReveal {
	var budget time.Duration
	if p.opts.Budget != nil {
		budget = p.opts.Budget(stage)
	}

	// The last line bypasses the edit limiter.
	var last string
	if len(lines) > 0 {
		last = lines[len(lines)-1]
	}
	render := func(text string) {
		if text == last {
			p.show(text, nil)
			return
		}
		p.frame(text)
	}

	if budget <= 0 || reveal.TypingThinkingDuration(lines, p.opts.CharDelay, p.opts.Pause, p.opts.Settle) <= budget {
		return reveal.NewTypingThinking(p.opts.Clock, p.opts.CharDelay, p.opts.Pause, p.opts.Settle, render)
	}

	lineDelay := p.opts.LineDelay
	if lineDelay <= 0 {
		lineDelay = reveal.DefaultLineDelay
	}
	if n := len(lines); n > 0 && reveal.SequenceDuration(n, lineDelay, p.opts.Settle) > budget {
		if fit := (budget - p.opts.Settle) / time.Duration(n); fit > 0 {
			lineDelay = fit
		}
	}
	return reveal.NewSequence(p.opts.Clock, lineDelay, p.opts.Settle, render)
}

func (p *Presenter) playFinal(s funnel.Snapshot, c *script.Catalog) {
	tw := reveal.NewTypewriter(p.opts.Clock, p.opts.CharDelay, p.frame)
	if !p.activate(s.Visit, tw) {
		return
	}

	p.show(pending(c), nil)
	tw.Start(c.Text(script.KeyFinalText), func() {
		m := p.machine()
		if m == nil {
			return
		}
		if err := m.FinalRevealed(s.Visit); err != nil {
			p.ignoreStale(err)
			return
		}
		p.Refresh(m.Snapshot())
	})
}

// activate installs r as the running reveal of visit.
func (p *Presenter) activate(visit uint64, r reveal.Reveal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.visit != visit {
		return false
	}
	p.active = r
	return true
}

func (p *Presenter) current(visit uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.visit == visit
}

// frame renders an animation frame unless the edit budget is spent.
func (p *Presenter) frame(text string) {
	if !p.limiter.Allow() {
		return
	}
	p.show(text, nil)
}

// show edits the screen message, sending it first when the stage has none yet.
func (p *Presenter) show(text string, markup *telebot.ReplyMarkup) {
	if text == "" {
		return
	}

	opts := []interface{}{}
	if markup != nil {
		opts = append(opts, markup)
	}

	p.outMu.Lock()
	defer p.outMu.Unlock()

	if p.screen == nil {
		msg, err := p.messenger.Send(p.chat, text, opts...)
		if err != nil {
			p.log.Warn("failed to send screen", slog.Any("error", err))
			return
		}
		p.screen = msg
		return
	}

	msg, err := p.messenger.Edit(p.screen, text, opts...)
	if err != nil {
		if !errors.Is(err, telebot.ErrSameMessageContent) {
			p.log.Warn("failed to edit screen", slog.Any("error", err))
		}
		return
	}
	if msg != nil {
		p.screen = msg
	}
}

func (p *Presenter) ignoreStale(err error) {
	if err == nil || errors.Is(err, funnel.ErrStaleVisit) || errors.Is(err, funnel.ErrClosed) {
		return
	}
	p.log.Debug("reveal callback rejected", slog.Any("error", err))
}

func prompt(c *script.Catalog, stage funnel.Stage) string {
	switch stage {
	case funnel.StageCalibration1:
		return c.Text(script.KeyCalibration1Prompt)
	case funnel.StageCalibration2:
		return c.Text(script.KeyCalibration2Prompt)
	case funnel.StageCognition1:
		return c.Text(script.KeyCognition1Prompt)
	case funnel.StageCognition2:
		return c.Text(script.KeyCognition2Prompt)
	case funnel.StageCommitment:
		return c.Text(script.KeyCommitmentPrompt)
	case funnel.StageContact:
		return c.Text(script.KeyContactPrompt)
	default:
		return ""
	}
}

func pending(c *script.Catalog) string {
	return c.Text(script.KeyPending)
}

func answerOrHint(answer, hint string) string {
	if strings.TrimSpace(answer) != "" {
		return "› " + answer
	}
	return hint
}

func formatErrors(errs funnel.ValidationErrors) string {
	if len(errs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(errs))
	for _, field := range []string{funnel.FieldFightNoise, funnel.FieldAssistance, funnel.FieldContribution, funnel.FieldName, funnel.FieldEmail, funnel.FieldTelegram} {
		if msg, ok := errs[field]; ok {
			lines = append(lines, "⚠ "+msg)
		}
	}
	return strings.Join(lines, "\n")
}

func joinBlocks(blocks ...string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}
