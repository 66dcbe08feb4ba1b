package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// SessionStore keeps isolated agent scopes in memory.
type SessionStore struct {
	mu     sync.RWMutex
	scopes map[domain.ScopeKey]*domain.Scope
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		scopes: make(map[domain.ScopeKey]*domain.Scope),
	}
}

func (s *SessionStore) CreateScope(_ context.Context, key domain.ScopeKey, seed domain.State) (*domain.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scopes[key]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrScopeExists, key)
	}

	scope := domain.NewScope(key, seed)
	s.scopes[key] = scope
	return scope, nil
}

func (s *SessionStore) GetScope(_ context.Context, key domain.ScopeKey) (*domain.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.scopes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScopeNotFound, key)
	}
	return scope, nil
}

func (s *SessionStore) DeleteScope(_ context.Context, key domain.ScopeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scopes[key]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrScopeNotFound, key)
	}
	delete(s.scopes, key)
	return nil
}

// Len reports how many scopes are currently open.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scopes)
}
