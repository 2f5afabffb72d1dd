package inmemory

import (
	"context"
	"sync"

	"github.com/jandive/jandive/internal/session"
)

// Store is the default history backend: a bounded in-memory ring.
type Store struct {
	mu      sync.RWMutex
	entries []session.Entry
	limit   int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{limit: limit}
}

func (s *Store) Append(_ context.Context, e session.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
	return nil
}

func (s *Store) Recent(_ context.Context, n int) ([]session.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]session.Entry, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out, nil
}
