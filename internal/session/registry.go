package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Proton-105/clearity-bot/internal/funnel"
)

const storageTimeout = 2 * time.Second

// ConfigFunc builds the machine configuration for a new session.
type ConfigFunc func(chatID int64, sessionID string) funnel.Config

// Session is one live funnel run.
type Session struct {
	ID        string
	ChatID    int64
	Machine   *funnel.Machine
	StartedAt time.Time
}

// Registry owns the live sessions, one per chat.
type Registry struct {
	storage Storage
	build   ConfigFunc
	clock   clockwork.Clock
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewRegistry creates a Registry. storage may be nil.
func NewRegistry(storage Storage, build ConfigFunc, clock clockwork.Clock, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}

	return &Registry{
		storage:  storage,
		build:    build,
		clock:    clock,
		log:      log,
		sessions: make(map[int64]*Session),
	}
}

// Start begins a fresh session for chatID, closing any session already running there.
func (r *Registry) Start(ctx context.Context, chatID int64) (*Session, error) {
	id := uuid.NewString()

	cfg := r.build(chatID, id)
	cfg.Observer = &persistingObserver{next: cfg.Observer, registry: r, chatID: chatID, sessionID: id}
	if cfg.Clock == nil {
		cfg.Clock = r.clock
	}

	s := &Session{
		ID:        id,
		ChatID:    chatID,
		Machine:   funnel.NewMachine(cfg),
		StartedAt: r.clock.Now().UTC(),
	}

	r.mu.Lock()
	previous := r.sessions[chatID]
	r.sessions[chatID] = s
	r.mu.Unlock()

	if previous != nil {
		previous.Machine.Close()
		r.log.Info("session replaced", slog.Int64("chat_id", chatID), slog.String("previous_session_id", previous.ID))
	}

	if err := s.Machine.Start(); err != nil {
		r.remove(chatID, s)
		return nil, err
	}

	r.log.Info("session started", slog.Int64("chat_id", chatID), slog.String("session_id", id))
	return s, nil
}

// Get returns the live session for chatID.
func (r *Registry) Get(chatID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[chatID]
	return s, ok
}

// End closes the session for chatID and forgets it.
func (r *Registry) End(ctx context.Context, chatID int64) bool {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	if ok {
		delete(r.sessions, chatID)
	}
	r.mu.Unlock()

	if err := r.storage.Delete(ctx, chatID); err != nil {
		r.log.Warn("failed to delete session record", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}

	if !ok {
		return false
	}

	s.Machine.Close()
	r.log.Info("session ended", slog.Int64("chat_id", chatID), slog.String("session_id", s.ID), slog.String("stage", string(s.Machine.Stage())))
	return true
}

// Touch refreshes the stored record so the cleaner keeps the session alive.
func (r *Registry) Touch(ctx context.Context, chatID int64) {
	s, ok := r.Get(chatID)
	if !ok {
		return
	}
	r.save(ctx, s, s.Machine.Stage())
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StageCounts returns the number of live sessions per stage.
func (r *Registry) StageCounts() map[string]int {
	r.mu.Lock()
	machines := make([]*funnel.Machine, 0, len(r.sessions))
	for _, s := range r.sessions {
		machines = append(machines, s.Machine)
	}
	r.mu.Unlock()

	counts := make(map[string]int)
	for _, m := range machines {
		counts[string(m.Stage())]++
	}
	return counts
}

// CloseAll ends every session. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	chatIDs := make([]int64, 0, len(r.sessions))
	for chatID := range r.sessions {
		chatIDs = append(chatIDs, chatID)
	}
	r.mu.Unlock()

	for _, chatID := range chatIDs {
		r.End(ctx, chatID)
	}
}

func (r *Registry) remove(chatID int64, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[chatID] == s {
		delete(r.sessions, chatID)
	}
}

func (r *Registry) current(chatID int64, sessionID string) bool {
	s, ok := r.Get(chatID)
	return ok && s.ID == sessionID
}

func (r *Registry) save(ctx context.Context, s *Session, stage funnel.Stage) {
	record := &Record{
		SessionID: s.ID,
		ChatID:    s.ChatID,
		Stage:     stage,
		StartedAt: s.StartedAt,
		UpdatedAt: r.clock.Now().UTC(),
	}

	if err := r.storage.Save(ctx, record); err != nil {
		r.log.Warn("failed to save session record", slog.Int64("chat_id", s.ChatID), slog.Any("error", err))
	}
}

// persistingObserver stores the stage of every entry before forwarding it.
type persistingObserver struct {
	next      funnel.Observer
	registry  *Registry
	chatID    int64
	sessionID string
}

func (o *persistingObserver) StageEntered(snapshot funnel.Snapshot) {
	if o.registry.current(o.chatID, o.sessionID) {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		s, _ := o.registry.Get(o.chatID)
		o.registry.save(ctx, s, snapshot.Stage)
		cancel()
	}

	if o.next != nil {
		o.next.StageEntered(snapshot)
	}
}

func (o *persistingObserver) EffectStarted(from, to funnel.Stage, effect funnel.Effect) {
	if o.next != nil {
		o.next.EffectStarted(from, to, effect)
	}
}
