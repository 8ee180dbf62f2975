package storage

import (
	"context"
	"sync"

	"intake/internal/constants"
	"intake/pkg/models"
)

type fingerprintKey struct {
	id  string
	typ string
}

// MemoryStore is a process-local store for tests and single-node trials.
type MemoryStore struct {
	mu     sync.Mutex
	events map[fingerprintKey]models.InboundEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[fingerprintKey]models.InboundEvent)}
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, events []models.InboundEvent) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range events {
		key := fingerprintKey{id: e.EventID, typ: e.EventType}
		if _, exists := s.events[key]; exists {
			continue
		}
		s.events[key] = e
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) Name() string {
	return constants.StoreMemory
}

// Get returns the stored event for a fingerprint.
func (s *MemoryStore) Get(eventID, eventType string) (models.InboundEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[fingerprintKey{id: eventID, typ: eventType}]
	return e, ok
}
