package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"intake/internal/config"
	"intake/internal/idempotency"
	"intake/internal/keystore"
	"intake/internal/logger"
	"intake/internal/storage"
	"intake/pkg/models"
)

var errStoreDown = errors.New("store down")

func newEvent(id, typ string) models.InboundEvent {
	return models.InboundEvent{
		EventID:    id,
		EventType:  typ,
		SubjectRef: "recipient-" + id,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Details:    map[string]interface{}{"smtp": "250"},
	}
}

func newIndex(t *testing.T) idempotency.Index {
	t.Helper()
	store := keystore.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)
	return idempotency.NewService(store, config.IdempotencyConfig{TTL: time.Hour}, logger.NopLogger())
}

func fastRetry() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func newMemoryQueue(t *testing.T, store storage.Store, sink DeadLetterSink, cfg config.IngestConfig) *MemoryQueue {
	t.Helper()
	stats := NewStats(100)
	processor := NewBatchProcessor(ProcessorDeps{
		Store:       store,
		DeadLetters: sink,
		Stats:       stats,
		Logger:      logger.NopLogger(),
	}, cfg, "memory")
	return NewMemoryQueue(newIndex(t), processor, stats, cfg, logger.NopLogger())
}

type captureSink struct {
	mu      sync.Mutex
	letters []models.DeadLetter
	err     error
}

func (s *captureSink) Send(ctx context.Context, letter models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, letter)
	return nil
}

func (s *captureSink) Letters() []models.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeadLetter, len(s.letters))
	copy(out, s.letters)
	return out
}

// failingStore fails the first failures calls, then delegates to a memory store.
type failingStore struct {
	*storage.MemoryStore
	failures int32
	calls    atomic.Int32
}

func newFailingStore(failures int32) *failingStore {
	return &failingStore{MemoryStore: storage.NewMemoryStore(), failures: failures}
}

func (s *failingStore) UpsertBatch(ctx context.Context, events []models.InboundEvent) (int, error) {
	if s.calls.Add(1) <= s.failures {
		return 0, errStoreDown
	}
	return s.MemoryStore.UpsertBatch(ctx, events)
}

// blockingStore blocks every write until the caller's context ends.
type blockingStore struct {
	*storage.MemoryStore
}

func (s *blockingStore) UpsertBatch(ctx context.Context, events []models.InboundEvent) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
