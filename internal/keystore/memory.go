package keystore

import (
	"context"
	"sync"
	"time"

	"intake/internal/constants"
)

// MemoryStore keeps keys in a map guarded by one mutex. Expired keys are treated as
// absent immediately and removed by a background sweeper.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if sweepInterval <= 0 {
		sweepInterval = constants.LocalSweepInterval
	}
	go s.sweep(sweepInterval)

	return s
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.entries[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Mode() string {
	return constants.ModeLocal
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *MemoryStore) sweep(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}
