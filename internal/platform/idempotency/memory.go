package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It backs tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now, expiresAt time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	existing, ok := s.entries[id]
	if ok && now.Before(existing.ExpiresAt) {
		if existing.Fingerprint != fingerprint {
			return nil, ErrKeyReused
		}
		if !existing.Done {
			return nil, ErrInFlight
		}
		replay := existing
		return &replay, nil
	}
	s.entries[id] = Entry{Fingerprint: fingerprint, ExpiresAt: expiresAt}
	return nil, nil
}

func (s *MemoryStore) Finish(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Done = true
	entry.Header = replayableHeader(entry.Header)
	entry.Body = append([]byte(nil), entry.Body...)
	s.entries[documentID(key)] = entry
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, documentID(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
