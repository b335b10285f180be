// Package bot wires the Telegram transport to the funnel sessions.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/analytics"
	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
	"github.com/Proton-105/clearity-bot/internal/bot/screen"
	errors "github.com/Proton-105/clearity-bot/internal/errors"
	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/idempotency"
	"github.com/Proton-105/clearity-bot/internal/middleware"
	"github.com/Proton-105/clearity-bot/internal/ratelimit"
	"github.com/Proton-105/clearity-bot/internal/script"
	"github.com/Proton-105/clearity-bot/internal/session"
	"github.com/Proton-105/clearity-bot/pkg/config"
)

// Deps are the collaborators the bot needs. Nil optional fields disable their feature.
type Deps struct {
	Log        *slog.Logger
	Script     *script.Store
	Storage    session.Storage
	Sink       analytics.Sink
	Dispatcher funnel.Dispatcher
	ErrHandler *errors.Handler
	Clock      clockwork.Clock

	Idempotency idempotency.Manager
	Limiter     ratelimit.Limiter
}

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot    *telebot.Bot
	log        *slog.Logger
	cfg        config.Config
	deps       Deps
	runtime    *runtime
	router     *Router
	dispatcher *Dispatcher
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.Config, deps Deps) (*Bot, error) {
	settings := telebot.Settings{
		Token: cfg.Bot.Token,
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Bot.WebhookListen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	return newBot(cfg, settings, deps)
}

func newBot(cfg config.Config, settings telebot.Settings, deps Deps) (*Bot, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Script == nil {
		return nil, fmt.Errorf("initialize bot: script store is required")
	}
	if deps.ErrHandler == nil {
		deps.ErrHandler = errors.NewHandler(deps.Log, cfg.Sentry.Enabled)
	}

	settings.OnError = func(err error, c telebot.Context) {
		deps.Log.Error("telebot error", slog.Any("error", err))
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	screenOpts := screen.DefaultOptions()
	screenOpts.Clock = deps.Clock
	if cfg.Funnel.EditInterval > 0 {
		screenOpts.EditInterval = cfg.Funnel.EditInterval
	}
	screenOpts.TransitionMediaURL = cfg.Funnel.TransitionMediaURL
	screenOpts.CommunityURL = cfg.Funnel.CommunityURL

	rt := newRuntime(tb, deps.Script, deps.Storage, deps.Sink, deps.Dispatcher, FunnelSettings{
		Timing:        funnel.Timing(cfg.Funnel.Timing),
		SchedulingURL: cfg.Funnel.SchedulingURL,
		UserAgent:     cfg.Funnel.UserAgent,
		Screen:        screenOpts,
	}, deps.Clock, deps.Log)

	dispatcher := NewDispatcher(rt.Stage, deps.Log)

	b := &Bot{
		telebot:    tb,
		log:        deps.Log,
		cfg:        cfg,
		deps:       deps,
		runtime:    rt,
		router:     NewRouter(dispatcher, deps.Log),
		dispatcher: dispatcher,
	}

	b.setupRouter()
	b.registerTelebotHandlers()

	return b, nil
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot == nil {
		return
	}

	if err := b.telebot.SetCommands([]telebot.Command{
		{Text: "start", Description: "Open the channel"},
		{Text: "cancel", Description: "Close the channel"},
	}); err != nil {
		b.log.Warn("failed to publish bot commands", slog.Any("error", err))
	}

	b.telebot.Start()
}

// Stop gracefully stops the telegram bot and ends every session.
func (b *Bot) Stop(ctx context.Context) {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")

	b.telebot.Stop()
	b.runtime.Shutdown(ctx)
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Sessions exposes the session registry for cleanup and metrics.
func (b *Bot) Sessions() *session.Registry {
	return b.runtime.registry
}

// Route handles one update. telebot calls it for text and callbacks.
func (b *Bot) Route(c telebot.Context) error {
	return b.router.Route(c)
}

func (b *Bot) setupRouter() {
	log := b.log
	store := b.deps.Script

	b.router.Use(RecoveryMiddleware(log, b.deps.ErrHandler))
	b.router.Use(LoggingMiddleware(log))
	b.router.Use(middleware.Metrics)
	if b.cfg.RateLimit.Enabled {
		b.router.Use(middleware.RateLimit(b.deps.Limiter, ratelimit.NewRules(b.cfg.RateLimit), b.deps.ErrHandler, log))
	}
	if b.cfg.Idempotency.Enabled {
		b.router.Use(middleware.Idempotency(b.deps.Idempotency, b.cfg.Idempotency.TTL, log))
	}
	b.router.Use(ErrorHandlingMiddleware(b.deps.ErrHandler))
	b.router.Use(SessionTouchMiddleware(b.runtime.registry))

	b.router.RegisterCommand(CommandStart, handlers.NewStartHandler(b.runtime, log))
	b.router.RegisterCommand(CommandCancel, handlers.NewCancelHandler(b.runtime, store, log))

	callbacks := handlers.NewCallbacks(b.runtime, store, log)
	b.router.RegisterCallback(keyboard.CallbackIntro, callbacks.Intro())
	b.router.RegisterCallback(keyboard.CallbackRecover, callbacks.Recover())
	b.router.RegisterCallback(keyboard.CallbackSkip, callbacks.Skip())
	b.router.RegisterCallback(keyboard.CallbackSlider, callbacks.Slider())
	b.router.RegisterCallback(keyboard.CallbackOption, callbacks.Option())
	b.router.RegisterCallback(keyboard.CallbackField, callbacks.Field())
	b.router.RegisterCallback(keyboard.CallbackSubmit, callbacks.Submit())
	b.router.RegisterCallback(keyboard.CallbackCTA, callbacks.CallToAction())

	answer := handlers.NewAnswerHandler(b.runtime, log)
	b.dispatcher.RegisterStageHandler(funnel.StageCognition1, answer)
	b.dispatcher.RegisterStageHandler(funnel.StageCognition2, answer)
	b.dispatcher.RegisterStageHandler(funnel.StageContact, handlers.NewContactHandler(b.runtime, log))

	b.router.SetDefault(handlers.NewFallbackHandler(store))
}

func (b *Bot) registerTelebotHandlers() {
	b.telebot.Handle(telebot.OnText, b.Route)
	b.telebot.Handle(telebot.OnCallback, b.Route)
}
