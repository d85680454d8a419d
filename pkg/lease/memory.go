package lease

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is an in-process lease store keyed by run identifier.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]memoryEntry
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, runID, ownerID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, held := s.leases[runID]
	if held && entry.owner != ownerID && s.now().Before(entry.expiresAt) {
		return ErrLeaseHeld
	}

	s.leases[runID] = memoryEntry{owner: ownerID, expiresAt: s.now().Add(ttl)}

	return nil
}

func (s *MemoryStore) Release(_ context.Context, runID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, held := s.leases[runID]; held && entry.owner == ownerID {
		delete(s.leases, runID)
	}

	return nil
}
