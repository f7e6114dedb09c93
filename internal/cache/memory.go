package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It is concurrency-safe and evicts
// expired keys lazily on access.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	clock func() time.Time
}

type memoryItem struct {
	value     []byte
	set       map[string]struct{}
	expiresAt time.Time
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStoreOption customises a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the time source used for expiry decisions.
func WithMemoryClock(clock func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	store := &MemoryStore{
		items: make(map[string]*memoryItem),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// IncrementWithTTL increments a counter whose window starts on first use.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	item := s.liveLocked(key, now)
	if item == nil {
		item = &memoryItem{value: []byte("0"), expiresAt: now.Add(window)}
		s.items[key] = item
	}

	current, _ := strconv.ParseInt(string(item.value), 10, 64)
	current++
	item.value = []byte(strconv.FormatInt(current, 10))

	return current, item.expiresAt.Sub(now), nil
}

// Set stores a copy of value under key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &memoryItem{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFrom(s.clock(), ttl),
	}
	return nil
}

// Get returns a copy of the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.liveLocked(key, s.clock())
	if item == nil || item.set != nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

// Delete removes keys, ignoring missing ones.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

// AddToSet adds members to the set at key and refreshes its expiry when ttl > 0.
func (s *MemoryStore) AddToSet(_ context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	item := s.liveLocked(key, now)
	if item == nil || item.set == nil {
		item = &memoryItem{set: make(map[string]struct{})}
		s.items[key] = item
	}
	for _, member := range members {
		item.set[member] = struct{}{}
	}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	return nil
}

// RemoveFromSet removes members from the set at key. An emptied set is deleted.
func (s *MemoryStore) RemoveFromSet(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.liveLocked(key, s.clock())
	if item == nil || item.set == nil {
		return nil
	}
	for _, member := range members {
		delete(item.set, member)
	}
	if len(item.set) == 0 {
		delete(s.items, key)
	}
	return nil
}

// SetMembers returns the members of the set at key.
func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.liveLocked(key, s.clock())
	if item == nil || item.set == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(item.set))
	for member := range item.set {
		members = append(members, member)
	}
	return members, nil
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	count := 0
	for key := range s.items {
		if s.liveLocked(key, now) != nil {
			count++
		}
	}
	return count
}

func (s *MemoryStore) liveLocked(key string, now time.Time) *memoryItem {
	item, ok := s.items[key]
	if !ok {
		return nil
	}
	if item.expired(now) {
		delete(s.items, key)
		return nil
	}
	return item
}

func expiryFrom(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
