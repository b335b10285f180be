// Package session tracks one funnel machine per Telegram chat.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/clearity-bot/internal/funnel"
)

// ErrSessionNotFound indicates that no record exists for the chat.
var ErrSessionNotFound = errors.New("session not found")

// Record is the persisted summary of a live session.
type Record struct {
	SessionID string       `json:"session_id"`
	ChatID    int64        `json:"chat_id"`
	Stage     funnel.Stage `json:"stage"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Storage defines the persistence contract for session records.
type Storage interface {
	// Get returns the record for chatID or ErrSessionNotFound.
	Get(ctx context.Context, chatID int64) (*Record, error)
	// Save stores record, replacing any previous one.
	Save(ctx context.Context, record *Record) error
	// Delete removes the record for chatID.
	Delete(ctx context.Context, chatID int64) error
	// List returns every stored record.
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStorage keeps records in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[int64]Record
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[int64]Record)}
}

// Get implements Storage.
func (s *MemoryStorage) Get(_ context.Context, chatID int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[chatID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &record, nil
}

// Save implements Storage.
func (s *MemoryStorage) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ChatID] = *record
	return nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, chatID)
	return nil
}

// List implements Storage.
func (s *MemoryStorage) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		copied := record
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChatID < result[j].ChatID })
	return result, nil
}
