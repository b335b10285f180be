package bot

import (
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	"github.com/Proton-105/clearity-bot/internal/funnel"
)

// StageFunc reports the stage of the chat's live session.
type StageFunc func(chatID int64) (funnel.Stage, bool)

// Dispatcher routes free-text updates to the handler of the chat's current stage.
type Dispatcher struct {
	stageOf       StageFunc
	stageHandlers map[funnel.Stage]handlers.Handler
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(stageOf StageFunc, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		stageOf:       stageOf,
		stageHandlers: make(map[funnel.Stage]handlers.Handler),
		log:           log,
	}
}

// RegisterStageHandler registers a handler for text sent while a session is in stage s.
func (d *Dispatcher) RegisterStageHandler(s funnel.Stage, h handlers.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stageHandlers[s] = h
}

// Resolve returns the handler for the update's chat, or nil when the chat has no session or its stage takes no text.
func (d *Dispatcher) Resolve(c telebot.Context) handlers.Handler {
	if d.stageOf == nil {
		return nil
	}

	chatID, ok := handlers.ChatID(c)
	if !ok {
		d.log.Warn("cannot dispatch without chat information")
		return nil
	}

	stage, ok := d.stageOf(chatID)
	if !ok {
		return nil
	}

	handler := d.getHandler(stage)
	if handler == nil {
		d.log.Debug("no handler registered for stage", slog.String("stage", string(stage)), slog.Int64("chat_id", chatID))
	}
	return handler
}

func (d *Dispatcher) getHandler(s funnel.Stage) handlers.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stageHandlers[s]
}
