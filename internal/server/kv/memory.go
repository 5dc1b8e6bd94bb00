package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and local development.
// TTLs are enforced lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Tests use it to simulate expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expiredLocked removes key when its TTL has lapsed. Caller holds the lock.
func (s *MemoryStore) expiredLocked(key string) bool {
	exp, ok := s.expires[key]
	if !ok || s.now().Before(exp) {
		return false
	}
	delete(s.values, key)
	delete(s.sets, key)
	delete(s.expires, key)
	return true
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expiredLocked(key) {
		return "", false, nil
	}
	val, ok := s.values[key]
	return val, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	s.expires[key] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiredLocked(key)

	current, _ := strconv.ParseInt(s.values[key], 10, 64)
	current++
	s.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expires[key] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) SetAdd(ctx context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiredLocked(key)

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *MemoryStore) SetCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expiredLocked(key) {
		return 0, nil
	}
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.sets, key)
	delete(s.expires, key)
	return nil
}
