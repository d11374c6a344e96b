package memscope

// Package memscope provides the short-lived intent scope: an in-process
// key-value store whose contents die with the browsing context (here, the
// process). It mirrors the durable Redis scope's contract so the intent
// reconciler can treat both uniformly.

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/ports"
)

var _ ports.IntentScope = (*Store)(nil)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Store is a concurrency-safe in-memory IntentScope.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// New creates an empty short-lived scope.
func New() *Store {
	return &Store{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// NewWithClock creates a Store with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return "", nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.data, key)
		return "", nil
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *Store) ClearPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

// Len reports the number of live entries. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
