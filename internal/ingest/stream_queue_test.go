package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/internal/storage"
)

func TestStreamQueue_Defaults(t *testing.T) {
	p := NewBatchProcessor(ProcessorDeps{Store: storage.NewMemoryStore()}, config.IngestConfig{}, constants.QueueRedisStream)
	q := NewStreamQueue(nil, newIndex(t), p, NewStats(10), config.IngestConfig{}, logger.NopLogger())

	assert.Equal(t, constants.DefaultStreamName, q.stream)
	assert.Equal(t, constants.DefaultStreamGroup, q.group)
	assert.Equal(t, constants.DefaultStreamWorkers, q.workers)
	assert.Equal(t, int64(constants.DefaultStreamMaxAttempts), q.maxAttempts)
	assert.Equal(t, constants.DefaultMaxQueueSize, q.maxSize)
	assert.Equal(t, constants.QueueRedisStream, q.Mode())
}

func TestStreamQueue_RetryDelayDoubles(t *testing.T) {
	p := NewBatchProcessor(ProcessorDeps{Store: storage.NewMemoryStore()}, config.IngestConfig{}, constants.QueueRedisStream)
	q := NewStreamQueue(nil, newIndex(t), p, NewStats(10), config.IngestConfig{
		Stream: config.StreamConfig{BackoffBase: time.Second},
	}, logger.NopLogger())

	assert.Equal(t, time.Second, q.retryDelay(0))
	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 4*time.Second, q.retryDelay(3))
}

func TestStreamQueue_ClaimAfterNeverBelowPersistTimeout(t *testing.T) {
	p := NewBatchProcessor(ProcessorDeps{Store: storage.NewMemoryStore()}, config.IngestConfig{}, constants.QueueRedisStream)
	q := NewStreamQueue(nil, newIndex(t), p, NewStats(10), config.IngestConfig{
		PersistTimeout: 5 * time.Second,
		Stream:         config.StreamConfig{BackoffBase: 200 * time.Millisecond},
	}, logger.NopLogger())

	floor := 5*time.Second + claimGrace
	assert.Equal(t, floor, q.claimAfter(1))
	assert.Equal(t, floor, q.claimAfter(3))
	assert.Equal(t, 200*time.Millisecond<<6, q.claimAfter(7))
}
