package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/analytics"
	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
	"github.com/Proton-105/clearity-bot/internal/bot/screen"
	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/script"
	"github.com/Proton-105/clearity-bot/internal/session"
)

// FunnelSettings are the per-session parameters shared by every chat.
type FunnelSettings struct {
	Timing        funnel.Timing
	SchedulingURL string
	UserAgent     string
	Screen        screen.Options
}

// runtime binds the session registry to one presenter per chat.
type runtime struct {
	registry   *session.Registry
	messenger  screen.Messenger
	store      *script.Store
	keys       *keyboard.Builder
	sink       analytics.Sink
	dispatcher funnel.Dispatcher
	settings   FunnelSettings
	log        *slog.Logger

	mu         sync.Mutex
	presenters map[int64]*screen.Presenter
}

var _ handlers.Runtime = (*runtime)(nil)

func newRuntime(
	messenger screen.Messenger,
	store *script.Store,
	storage session.Storage,
	sink analytics.Sink,
	dispatcher funnel.Dispatcher,
	settings FunnelSettings,
	clock clockwork.Clock,
	log *slog.Logger,
) *runtime {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}

	rt := &runtime{
		messenger:  messenger,
		store:      store,
		keys:       keyboard.NewBuilder(store, log),
		sink:       sink,
		dispatcher: dispatcher,
		settings:   settings,
		log:        log,
		presenters: make(map[int64]*screen.Presenter),
	}
	rt.registry = session.NewRegistry(storage, rt.build, clock, log)
	return rt
}

// build is the registry's ConfigFunc. It replaces the chat's presenter.
func (r *runtime) build(chatID int64, sessionID string) funnel.Config {
	machine := func() *funnel.Machine {
		s, ok := r.registry.Get(chatID)
		if !ok || s.ID != sessionID {
			return nil
		}
		return s.Machine
	}

	opts := r.settings.Screen
	if opts.Budget == nil {
		opts.Budget = r.settings.Timing.AutoDelay
	}

	presenter := screen.New(
		&telebot.Chat{ID: chatID},
		r.messenger,
		r.store,
		r.keys,
		machine,
		opts,
		r.log.With(slog.Int64("chat_id", chatID), slog.String("session_id", sessionID)),
	)

	r.mu.Lock()
	previous := r.presenters[chatID]
	r.presenters[chatID] = presenter
	r.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	catalog := r.store.Catalog()

	return funnel.Config{
		Timing:        r.settings.Timing,
		Tracker:       analytics.NewTracker(r.sink, sessionID),
		Dispatcher:    r.dispatcher,
		Opener:        presenter,
		Observer:      presenter,
		Log:           r.log.With(slog.Int64("chat_id", chatID)),
		IntroLines:    len(catalog.Lines(script.KeyIntroLines)),
		Options:       catalog.Lines(script.KeyCommitmentOptions),
		SchedulingURL: r.settings.SchedulingURL,
		UserAgent:     r.settings.UserAgent,
	}
}

// Begin implements handlers.Runtime.
func (r *runtime) Begin(ctx context.Context, chatID int64) error {
	if _, err := r.registry.Start(ctx, chatID); err != nil {
		r.dropPresenter(chatID)
		return err
	}
	return nil
}

// Finish implements handlers.Runtime.
func (r *runtime) Finish(ctx context.Context, chatID int64) bool {
	ended := r.registry.End(ctx, chatID)
	r.dropPresenter(chatID)
	return ended
}

// Lookup implements handlers.Runtime.
func (r *runtime) Lookup(chatID int64) (*funnel.Machine, handlers.View, bool) {
	s, ok := r.registry.Get(chatID)
	if !ok {
		return nil, nil, false
	}

	r.mu.Lock()
	presenter, ok := r.presenters[chatID]
	r.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	return s.Machine, presenter, true
}

// Stage reports the stage of the chat's live session.
func (r *runtime) Stage(chatID int64) (funnel.Stage, bool) {
	s, ok := r.registry.Get(chatID)
	if !ok {
		return "", false
	}
	return s.Machine.Stage(), true
}

// Shutdown ends every session.
func (r *runtime) Shutdown(ctx context.Context) {
	r.registry.CloseAll(ctx)

	r.mu.Lock()
	presenters := r.presenters
	r.presenters = make(map[int64]*screen.Presenter)
	r.mu.Unlock()

	for _, p := range presenters {
		p.Close()
	}
}

func (r *runtime) dropPresenter(chatID int64) {
	r.mu.Lock()
	presenter, ok := r.presenters[chatID]
	delete(r.presenters, chatID)
	r.mu.Unlock()

	if ok {
		presenter.Close()
	}
}
