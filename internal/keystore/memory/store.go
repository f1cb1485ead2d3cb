// Package memory is an in-process Store used in tests and as a fallback
// when no Redis target is configured. TTLs are enforced lazily on access.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sendgate/sendgate/internal/keystore"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory implementation of keystore.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ keystore.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Tests use this to step past
// TTL boundaries without sleeping.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		delete(s.entries, key)
		return "", keystore.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = entry{value: "0"}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e

	var remaining time.Duration
	if !e.expiresAt.IsZero() {
		remaining = e.expiresAt.Sub(now)
	}
	return n, remaining, nil
}
