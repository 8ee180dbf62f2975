package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/config"
	"intake/internal/logger"
	"intake/internal/slo"
	"intake/internal/storage"
	apperrors "intake/pkg/errors"
	"intake/pkg/models"
)

func TestBatchProcessor_PersistRecordsLatencyAndStats(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := slo.NewRecorder(10)
	stats := NewStats(10)
	p := NewBatchProcessor(ProcessorDeps{Store: store, Recorder: rec, Stats: stats, Logger: logger.NopLogger()},
		config.IngestConfig{ProgressEvery: 1}, "memory")
	p.SetDepthFunc(func() int { return 7 })

	inserted, err := p.Persist(context.Background(), []models.InboundEvent{newEvent("A", "t"), newEvent("B", "t")})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Redelivery of the same batch changes nothing.
	inserted, err = p.Persist(context.Background(), []models.InboundEvent{newEvent("A", "t"), newEvent("B", "t")})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	snap := stats.Snapshot("memory", 7)
	assert.Equal(t, int64(4), snap.Processed)
	assert.Equal(t, int64(2), snap.Inserted)
	assert.Equal(t, int64(2), snap.BatchesProcessed)
	assert.Equal(t, 7, snap.QueueDepth)

	assert.Equal(t, int64(2), rec.Snapshot()[PersistOperation].Count)
	count, _ := store.Count(context.Background())
	assert.Equal(t, int64(2), count)
}

func TestBatchProcessor_PersistEmptyBatch(t *testing.T) {
	p := NewBatchProcessor(ProcessorDeps{Store: newFailingStore(100)}, config.IngestConfig{}, "memory")
	n, err := p.Persist(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBatchProcessor_PersistFailureCountsErrors(t *testing.T) {
	rec := slo.NewRecorder(10)
	stats := NewStats(10)
	p := NewBatchProcessor(ProcessorDeps{Store: newFailingStore(1), Recorder: rec, Stats: stats}, config.IngestConfig{}, "memory")

	_, err := p.Persist(context.Background(), []models.InboundEvent{newEvent("A", "t")})
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, int64(1), stats.Snapshot("memory", 0).Failed)
	assert.Equal(t, int64(1), rec.Snapshot()[PersistOperation].Errors)
}

func TestBatchProcessor_PersistTimeout(t *testing.T) {
	store := &blockingStore{MemoryStore: storage.NewMemoryStore()}
	p := NewBatchProcessor(ProcessorDeps{Store: store}, config.IngestConfig{PersistTimeout: 10 * time.Millisecond}, "memory")

	_, err := p.Persist(context.Background(), []models.InboundEvent{newEvent("A", "t")})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestBatchProcessor_DeadLetterFallsBackToLogWhenSinkFails(t *testing.T) {
	sink := &captureSink{err: errors.New("broker unavailable")}
	stats := NewStats(10)
	p := NewBatchProcessor(ProcessorDeps{Store: newFailingStore(100), DeadLetters: sink, Stats: stats},
		config.IngestConfig{Retry: fastRetry()}, "memory")

	err := p.Process(context.Background(), []models.InboundEvent{newEvent("A", "t"), newEvent("B", "t")})
	assert.Error(t, err)
	assert.Empty(t, sink.Letters())
	assert.Equal(t, int64(2), stats.Snapshot("memory", 0).DeadLettered)
}

func TestFingerprints(t *testing.T) {
	assert.Equal(t, []string{"A:t", "B:u"}, fingerprints([]models.InboundEvent{newEvent("A", "t"), newEvent("B", "u")}))
}
