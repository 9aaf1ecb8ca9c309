package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	expires time.Time
}

type memStore struct {
	mu sync.Mutex
	m  map[string]memEntry
}

// NewMemory returns an in-process Store for dev and tests. Expired entries are
// dropped lazily on access; the handshake key space is small enough that no
// background reaper is needed.
func NewMemory() Store {
	return &memStore{m: map[string]memEntry{}}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expires) {
		delete(s.m, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) TakeOnce(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", false, nil
	}
	delete(s.m, key)
	if time.Now().After(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}
