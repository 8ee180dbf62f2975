package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	"intake/internal/storage"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/models"
	"intake/pkg/retry"
	"intake/pkg/tracing"
)

// PersistOperation is the name batch latencies are recorded under.
const PersistOperation = "ingest.persist_batch"

// LatencyRecorder receives one latency sample per persisted batch.
type LatencyRecorder interface {
	Record(endpoint string, d time.Duration, failed bool)
}

type ProcessorDeps struct {
	Store       storage.Store
	DeadLetters DeadLetterSink
	Recorder    LatencyRecorder
	Stats       *Stats
	Logger      logger.Logger
}

// BatchProcessor persists batches through the store and accounts for the outcome.
type BatchProcessor struct {
	store       storage.Store
	deadLetters DeadLetterSink
	recorder    LatencyRecorder
	stats       *Stats
	logger      logger.Logger

	substrate     string
	timeout       time.Duration
	progressEvery int64
	policy        retry.Policy
	depth         atomic.Pointer[func() int]
}

func NewBatchProcessor(deps ProcessorDeps, cfg config.IngestConfig, substrate string) *BatchProcessor {
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = constants.DefaultPersistTimeout
	}
	every := int64(cfg.ProgressEvery)
	if every <= 0 {
		every = constants.DefaultProgressEvery
	}
	stats := deps.Stats
	if stats == nil {
		stats = NewStats(constants.DefaultSampleWindow)
	}
	log := deps.Logger
	if log == nil {
		log = logger.NopLogger()
	}

	return &BatchProcessor{
		store:         deps.Store,
		deadLetters:   deps.DeadLetters,
		recorder:      deps.Recorder,
		stats:         stats,
		logger:        log,
		substrate:     substrate,
		timeout:       timeout,
		progressEvery: every,
		policy:        retryPolicy(cfg.Retry),
	}
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}

// SetDepthFunc installs the source used for queue depth in progress logs.
func (p *BatchProcessor) SetDepthFunc(fn func() int) {
	p.depth.Store(&fn)
}

func (p *BatchProcessor) queueDepth() int {
	fn := p.depth.Load()
	if fn == nil || *fn == nil {
		return 0
	}
	return (*fn)()
}

// Persist makes one bounded attempt to write batch.
func (p *BatchProcessor) Persist(ctx context.Context, batch []models.InboundEvent) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	ctx, span := tracing.GetTracer(constants.ServiceName).Start(ctx, "ingest.persist_batch")
	defer span.End()

	persistCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	inserted, err := p.store.UpsertBatch(persistCtx, batch)
	elapsed := time.Since(start)

	if p.recorder != nil {
		p.recorder.Record(PersistOperation, elapsed, err != nil)
	}

	if err != nil {
		span.RecordError(err)
		p.stats.failed.Add(int64(len(batch)))
		metrics.ObserveBatch(p.substrate, "error", len(batch), elapsed)
		p.logger.ErrorwCtx(ctx, "Failed to persist batch",
			"substrate", p.substrate,
			"batch_size", len(batch),
			"duration", elapsed,
			"error", err,
		)
		if errors.Is(persistCtx.Err(), context.DeadlineExceeded) {
			return 0, apperrors.ErrTimeout.WithCause(err).WithDetail("operation", PersistOperation)
		}
		return 0, err
	}

	p.stats.recordBatch(len(batch), inserted, elapsed)
	metrics.ObserveBatch(p.substrate, "success", len(batch), elapsed)

	if n := p.stats.batches.Load(); n%p.progressEvery == 0 {
		p.logger.InfowCtx(ctx, "Batch progress",
			"substrate", p.substrate,
			"batches", n,
			"processed", p.stats.processed.Load(),
			"inserted", p.stats.inserted.Load(),
			"failed", p.stats.failed.Load(),
			"queue_depth", p.queueDepth(),
		)
	}

	if ignored := len(batch) - inserted; ignored > 0 {
		p.logger.DebugwCtx(ctx, "Batch contained already persisted events",
			"batch_size", len(batch),
			"ignored", ignored,
		)
	}

	return inserted, nil
}

// Process persists batch with bounded exponential retry and dead-letters it when every
// attempt fails.
func (p *BatchProcessor) Process(ctx context.Context, batch []models.InboundEvent) error {
	attempts := 0
	err := retry.RetryWithCallback(ctx, p.policy, func() error {
		attempts++
		_, err := p.Persist(ctx, batch)
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetry("batch_processor")
		p.logger.WarnwCtx(ctx, "Retrying batch persistence",
			"attempt", attempt,
			"max_attempts", p.policy.MaxAttempts,
			"next_delay", nextDelay,
			"batch_size", len(batch),
			"error", err,
		)
	})
	if err == nil {
		return nil
	}

	p.DeadLetter(ctx, batch, "max_retries_exceeded", err, attempts)
	return err
}

// DeadLetter hands batch to the sink, or logs every fingerprint at risk when there is
// no sink or the sink fails.
func (p *BatchProcessor) DeadLetter(ctx context.Context, batch []models.InboundEvent, reason string, cause error, attempts int) {
	p.stats.deadLettered.Add(int64(len(batch)))
	metrics.AddDeadLettered(p.substrate, reason, len(batch))

	letter := models.DeadLetter{
		Events:   batch,
		Reason:   reason,
		Attempts: attempts,
		Source:   p.substrate,
		FailedAt: time.Now().UTC(),
	}
	if cause != nil {
		letter.Error = cause.Error()
	}

	if p.deadLetters != nil {
		err := p.deadLetters.Send(ctx, letter)
		if err == nil {
			p.logger.WarnwCtx(ctx, "Batch dead-lettered",
				"substrate", p.substrate,
				"batch_size", len(batch),
				"reason", reason,
				"attempts", attempts,
			)
			return
		}
		p.logger.ErrorwCtx(ctx, "Failed to publish dead letter",
			"error", err,
			"batch_size", len(batch),
		)
	}

	p.logger.ErrorwCtx(ctx, "Batch dropped after exhausting persistence attempts",
		"substrate", p.substrate,
		"reason", reason,
		"attempts", attempts,
		"batch_size", len(batch),
		"fingerprints", fingerprints(batch),
		"error", errString(cause),
	)
}

func fingerprints(batch []models.InboundEvent) []string {
	out := make([]string, len(batch))
	for i, e := range batch {
		out[i] = fmt.Sprintf("%s:%s", e.EventID, e.EventType)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
