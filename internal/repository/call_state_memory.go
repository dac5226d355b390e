package repository

import (
	"context"
	"sync"
	"time"
)

type memoryCallStateStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // callSID -> expiry
}

func NewMemoryCallStateStore() CallStateStore {
	return &memoryCallStateStore{seen: make(map[string]time.Time)}
}

func (s *memoryCallStateStore) MarkConsumed(_ context.Context, callSID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if exp, ok := s.seen[callSID]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[callSID] = now.Add(ttl)

	// Opportunistic cleanup of expired entries.
	for sid, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, sid)
		}
	}
	return true, nil
}
