// Package memory provides an in-process store.Store for tests and the
// sandbox. Nothing survives a restart.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	flags  map[string]bool
	closed bool
	writes int
}

func New() *Store {
	return &Store{flags: make(map[string]bool)}
}

func (s *Store) GetBool(_ context.Context, key string, def bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return def, storekit.ErrStoreClosed
	}
	if v, ok := s.flags[key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *Store) SetBool(_ context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storekit.ErrStoreClosed
	}
	s.flags[key] = value
	s.writes++
	return nil
}

func (s *Store) Scan(_ context.Context, prefix string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storekit.ErrStoreClosed
	}
	out := make(map[string]bool)
	for k, v := range s.flags {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

// Writes returns the number of SetBool calls accepted so far.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Core methods

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storekit.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
