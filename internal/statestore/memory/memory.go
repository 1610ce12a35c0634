// Package memory is the in-memory statestore.Store backend, grounded on
// the teacher's statemanager.Manager (a mutex-guarded map with no
// external dependency).
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/flowgraphd/flowgraphd/internal/statestore"
)

type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

var _ statestore.Store = (*Store)(nil)

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) Close() error { return nil }
