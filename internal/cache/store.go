package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/dunamismax/pixelforge/internal/domain"
)

// ErrCacheRace is returned by Store.Put when another writer already recorded
// the fingerprint. Cache resolves it by adopting the stored descriptor.
var ErrCacheRace = errors.New("fingerprint already recorded")

type Store interface {
	Get(ctx context.Context, fingerprint string) (domain.Derivative, bool, error)
	Put(ctx context.Context, d domain.Derivative) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.Derivative
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.Derivative)}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (domain.Derivative, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.entries[fingerprint]
	return d, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, d domain.Derivative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[d.Fingerprint]; exists {
		return ErrCacheRace
	}
	s.entries[d.Fingerprint] = d
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
