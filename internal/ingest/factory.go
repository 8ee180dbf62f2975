package ingest

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/idempotency"
	"intake/internal/logger"
)

// NewQueue builds the substrate selected by cfg.Queue around a shared processor.
func NewQueue(cfg config.IngestConfig, client redis.UniversalClient, index idempotency.Index, deps ProcessorDeps) (EventIngestionQueue, error) {
	log := deps.Logger
	if log == nil {
		log = logger.NopLogger()
		deps.Logger = log
	}
	if deps.Stats == nil {
		deps.Stats = NewStats(constants.DefaultSampleWindow)
	}

	switch cfg.Queue {
	case "", constants.QueueMemory:
		processor := NewBatchProcessor(deps, cfg, constants.QueueMemory)
		return NewMemoryQueue(index, processor, deps.Stats, cfg, log), nil
	case constants.QueueRedisStream:
		if client == nil {
			return nil, fmt.Errorf("queue %q requires a redis connection", cfg.Queue)
		}
		processor := NewBatchProcessor(deps, cfg, constants.QueueRedisStream)
		return NewStreamQueue(client, index, processor, deps.Stats, cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported queue substrate: %s", cfg.Queue)
	}
}
