package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdown runs cleanup hooks in reverse registration order, like deferred calls.
// Register producers after the things they feed so producers stop first.
type Shutdown struct {
	mu    sync.Mutex
	hooks []hook
	log   *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a named shutdown hook. Nil hooks are ignored.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Execute runs the hooks one by one, last registered first. A failing hook does not stop the
// sequence; once ctx expires the remaining hooks are skipped.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]hook(nil), s.hooks...)
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)))

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := s.run(ctx, h); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				s.log.Warn("shutdown deadline reached, skipping remaining hooks", slog.Int("skipped", i))
				break
			}
		}
	}

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))
	return errors.Join(errs...)
}

func (s *Shutdown) run(ctx context.Context, h hook) error {
	s.log.Info("running shutdown hook", slog.String("hook", h.name))

	done := make(chan error, 1)
	go func() { done <- h.fn(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			s.log.Error("shutdown hook failed", slog.String("hook", h.name), slog.Any("error", err))
			return fmt.Errorf("%s: %w", h.name, err)
		}
		s.log.Info("shutdown hook completed", slog.String("hook", h.name))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", h.name, ctx.Err())
	}
}
