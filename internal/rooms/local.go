package rooms

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 256

// localStore holds room keys for a manager whose adapter is private to this
// process. Unlike the bounded session cache it never evicts live entries, so
// session churn cannot make a populated room look empty. Entries still expire.
type localStore struct {
	mu      sync.Mutex
	entries map[string]localEntry
	sets    int
	now     func() time.Time
}

type localEntry struct {
	value    []byte
	expireAt time.Time
}

func newLocalStore(now func() time.Time) *localStore {
	return &localStore{entries: make(map[string]localEntry), now: now}
}

func (s *localStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.entries, key)
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

func (s *localStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := localEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expireAt = s.now().Add(ttl)
	}
	s.entries[key] = e

	s.sets++
	if s.sets%sweepEvery == 0 {
		now := s.now()
		for k, e := range s.entries {
			if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
				delete(s.entries, k)
			}
		}
	}
}

func (s *localStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *localStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]localEntry)
}
