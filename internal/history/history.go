// Package history keeps the append-only log of sync session events.
package history

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/state"
)

// Status values written by the engine
const (
	StatusStarted          = "Started"
	StatusConflictResolved = "Conflict resolved"
	StatusCompleted        = "Completed"
	StatusError            = "Error"
)

// Entry is one session lifecycle event
type Entry struct {
	Timestamp       time.Time `json:"timestamp"`
	FolderName      string    `json:"folderName"`
	Status          string    `json:"status"`
	Details         string    `json:"details"`
	PeerDisplayName string    `json:"peerDisplayName,omitempty"`
}

func (e Entry) String() string {
	peer := ""
	if e.PeerDisplayName != "" {
		peer = " with " + e.PeerDisplayName
	}
	return fmt.Sprintf("%s  %-8s %s%s: %s", e.Timestamp.Format(time.DateTime), e.FolderName, e.Status, peer, e.Details)
}

// Store persists entries. The database package implements it.
type Store interface {
	AppendHistory(e Entry) error
	LoadHistory() ([]Entry, error)
	ClearHistory() error
}

// Log is the in-memory history, optionally backed by a Store
type Log struct {
	mu      sync.Mutex
	entries *state.Value[[]Entry]
	store   Store
	logger  *zap.Logger
}

// NewLog creates a log. With a store, persisted entries are loaded first.
func NewLog(store Store, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var initial []Entry
	if store != nil {
		loaded, err := store.LoadHistory()
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		initial = loaded
	}

	return &Log{
		entries: state.NewValue(initial),
		store:   store,
		logger:  logger,
	}, nil
}

// Append records e. A zero timestamp is set to now.
func (l *Log) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AppendHistory(e); err != nil {
			l.logger.Warn("Failed to persist history entry", zap.Error(err))
		}
	}

	l.entries.Update(func(old []Entry) []Entry {
		next := make([]Entry, len(old), len(old)+1)
		copy(next, old)
		return append(next, e)
	})
}

// Entries returns the entries in insertion order
func (l *Log) Entries() []Entry {
	current := l.entries.Get()
	out := make([]Entry, len(current))
	copy(out, current)
	return out
}

// Subscribe follows the entry list
func (l *Log) Subscribe() (<-chan []Entry, func()) {
	return l.entries.Subscribe()
}

// Clear removes every entry
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		if err := l.store.ClearHistory(); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
	}
	l.entries.Set(nil)
	return nil
}
