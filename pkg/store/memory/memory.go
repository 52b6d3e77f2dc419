// Package memory is an in-process session store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/datachat/pkg/domain"
	"github.com/nstogner/datachat/pkg/store"
)

type entry struct {
	state    *domain.SessionState
	created  time.Time
	modified time.Time
}

// Store keeps deep copies of saved states in a map.
type Store struct {
	mu      sync.RWMutex
	entries map[store.Token]entry
}

// Verify interface compliance at compile time.
var _ store.SessionStore = (*Store)(nil)

func New() *Store {
	return &Store{entries: make(map[store.Token]entry)}
}

func (s *Store) Save(ctx context.Context, state *domain.SessionState) (store.Token, error) {
	if state.ID == "" {
		state.ID = uuid.New().String()
	}
	tok := store.Token(state.ID)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[tok]
	if !ok {
		e.created = now
	}
	e.state = state.Clone()
	e.modified = now
	s.entries[tok] = e
	return tok, nil
}

func (s *Store) Load(ctx context.Context, token store.Token) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, token)
	}
	return e.state.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, token store.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[token]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, token)
	}
	delete(s.entries, token)
	return nil
}

func (s *Store) List(ctx context.Context) ([]store.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Summary, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, store.Summarize(e.state, e.created, e.modified))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}
