package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists session state for the lifetime of a session.
type Store interface {
	// Load returns ErrNotFound for unknown ids.
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	// DeleteIdle removes sessions last updated before cutoff and reports how
	// many were removed.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore keeps states in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*State)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, state *State) error {
	c := state.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[state.ID] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.data {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}
