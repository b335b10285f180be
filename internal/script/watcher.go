package script

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active catalog and swaps it on reload.
type Store struct {
	path    string
	current atomic.Pointer[Catalog]
	log     *slog.Logger
}

// NewStore loads the catalog from path (empty means embedded only).
func NewStore(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	catalog, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, log: log}
	s.current.Store(catalog)
	return s, nil
}

// Catalog returns the active catalog.
func (s *Store) Catalog() *Catalog {
	return s.current.Load()
}

// Reload re-reads the override file. On failure the previous catalog stays active.
func (s *Store) Reload() error {
	catalog, err := Load(s.path)
	if err != nil {
		return err
	}

	s.current.Store(catalog)
	return nil
}

// Watch reloads the catalog whenever the override file changes, until ctx is done.
// Rapid successive writes are collapsed into one reload.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file, so the directory is watched instead.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			trigger = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("script watcher error", slog.Any("error", err))

		case <-trigger:
			trigger = nil
			if err := s.Reload(); err != nil {
				s.log.Error("script reload failed", slog.String("path", s.path), slog.Any("error", err))
				continue
			}
			s.log.Info("script reloaded", slog.String("path", s.path))
		}
	}
}
