package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/foliograph/foliograph/internal/config"
)

// MemStore is an in-process Store used by tests in place of Postgres,
// playing the same role as the teacher's nopersist stub in internal/persist.go.
type MemStore struct {
	mu     sync.Mutex
	clock  config.Clock
	values map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemStore builds a MemStore driven by clock (config.RealClock{} in
// production-adjacent tests, a fake clock for deterministic TTL tests).
func NewMemStore(clock config.Clock) *MemStore {
	return &MemStore{clock: clock, values: map[string]memEntry{}}
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.clock.Now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *MemStore) Put(_ context.Context, key string, value []byte, ttlSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memEntry{value: value, expiresAt: s.clock.Now().Add(time.Duration(ttlSeconds) * time.Second)}
	return nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
		}
	}
	return nil
}

func (s *MemStore) Scan(_ context.Context, likePattern string) (map[string][]byte, error) {
	prefix := strings.TrimSuffix(likePattern, "%")
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := map[string][]byte{}
	for k, e := range s.values {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			out[k] = e.value
		}
	}
	return out, nil
}
