package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of Store.
// Expired keys are evicted lazily on read; no background sweeper is needed
// for the expected key cardinality.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]string
	expiry  map[string]time.Time
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evictIfExpired(key) {
		return nil, nil
	}

	fields, ok := s.entries[key]
	if !ok {
		return nil, nil
	}

	// Copy so callers never alias internal state.
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]string, len(fields))
	for k, v := range fields {
		stored[k] = v
	}

	s.entries[key] = stored
	s.setExpiry(key, ttl)

	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpired(key)

	fields, ok := s.entries[key]
	if !ok {
		fields = make(map[string]string, 1)
		s.entries[key] = fields
	}

	current, _ := strconv.ParseInt(fields[field], 10, 64)
	current += delta
	fields[field] = strconv.FormatInt(current, 10)
	s.setExpiry(key, ttl)

	return current, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	delete(s.expiry, key)

	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]map[string]string)
	s.expiry = make(map[string]time.Time)

	return nil
}

// Len returns the number of live keys. Used by tests and observability.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()

	for key := range s.entries {
		if exp, ok := s.expiry[key]; ok && now.After(exp) {
			continue
		}
		n++
	}

	return n
}

// evictIfExpired removes the key when its expiry has passed.
// Caller must hold the lock. Reports whether the key was evicted.
func (s *MemoryStore) evictIfExpired(key string) bool {
	exp, ok := s.expiry[key]
	if !ok || time.Now().Before(exp) {
		return false
	}

	delete(s.entries, key)
	delete(s.expiry, key)

	return true
}

func (s *MemoryStore) setExpiry(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)
