package domain

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrScopeNotFound = errors.New("session scope not found")
	ErrScopeExists   = errors.New("session scope already exists")
)

// ScopeKey addresses one isolated session scope.
type ScopeKey struct {
	Namespace     string
	CorrelationID string
}

func (k ScopeKey) String() string {
	return fmt.Sprintf("%s/%s", k.Namespace, k.CorrelationID)
}

// Scope is the private, mutable state of one nested agent invocation.
type Scope struct {
	Key ScopeKey

	mu     sync.RWMutex
	values map[string]any
}

// NewScope seeds a scope with a copy of seed.
func NewScope(key ScopeKey, seed State) *Scope {
	return &Scope{Key: key, values: seed.Map()}
}

func (s *Scope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Scope) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = cloneValue(v)
}

// Apply merges a state delta into the scope.
func (s *Scope) Apply(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.values[k] = cloneValue(v)
	}
}

// Snapshot returns the current content as an immutable State.
func (s *Scope) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return NewState(s.values)
}
