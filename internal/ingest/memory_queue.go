package ingest

import (
	"context"
	"sync"
	"time"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/idempotency"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/models"
)

// MemoryQueue buffers events in process and persists them from a single drainer that
// flushes whenever a full batch is waiting or the batch interval elapses.
type MemoryQueue struct {
	index     idempotency.Index
	processor *BatchProcessor
	stats     *Stats
	logger    logger.Logger

	maxSize   int
	batchSize int
	interval  time.Duration

	mu       sync.Mutex
	pending  []models.InboundEvent
	inflight int
	closed   bool
	started  bool

	full chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewMemoryQueue(index idempotency.Index, processor *BatchProcessor, stats *Stats, cfg config.IngestConfig, log logger.Logger) *MemoryQueue {
	maxSize := cfg.MaxQueueSize
	if maxSize <= 0 {
		maxSize = constants.DefaultMaxQueueSize
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}
	interval := cfg.BatchInterval
	if interval <= 0 {
		interval = constants.DefaultBatchInterval
	}

	q := &MemoryQueue{
		index:     index,
		processor: processor,
		stats:     stats,
		logger:    log,
		maxSize:   maxSize,
		batchSize: batchSize,
		interval:  interval,
		full:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	processor.SetDepthFunc(q.depth)
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event models.InboundEvent) (Result, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Result{}, apperrors.ErrShuttingDown
	}
	if q.depthLocked() >= q.maxSize {
		q.mu.Unlock()
		return q.rejectCapacity(), nil
	}
	q.mu.Unlock()

	fp := idempotency.NewFingerprint(event.EventID, event.EventType)
	isNew, err := q.index.CheckAndInsert(ctx, fp)
	if err != nil {
		metrics.IncEnqueue(constants.QueueMemory, "error")
		return Result{}, err
	}
	if !isNew {
		q.stats.duplicates.Add(1)
		metrics.IncEnqueue(constants.QueueMemory, ReasonDuplicate)
		return Result{Accepted: true, Reason: ReasonDuplicate}, nil
	}

	q.mu.Lock()
	if q.closed || q.depthLocked() >= q.maxSize {
		closed := q.closed
		q.mu.Unlock()
		q.release(ctx, fp)
		if closed {
			return Result{}, apperrors.ErrShuttingDown
		}
		return q.rejectCapacity(), nil
	}
	q.pending = append(q.pending, event)
	n := len(q.pending)
	depth := q.depthLocked()
	q.mu.Unlock()

	q.stats.enqueued.Add(1)
	metrics.IncEnqueue(constants.QueueMemory, "accepted")
	metrics.SetQueueDepth(constants.QueueMemory, depth)

	if n >= q.batchSize {
		select {
		case q.full <- struct{}{}:
		default:
		}
	}
	return Result{Accepted: true}, nil
}

func (q *MemoryQueue) rejectCapacity() Result {
	q.stats.rejected.Add(1)
	metrics.IncEnqueue(constants.QueueMemory, ReasonCapacity)
	return Result{Accepted: false, Reason: ReasonCapacity}
}

// release undoes a fingerprint insert for an event that was never buffered, so the
// caller's retry is not mistaken for a duplicate.
func (q *MemoryQueue) release(ctx context.Context, fp idempotency.Fingerprint) {
	if err := q.index.Release(ctx, fp); err != nil {
		q.logger.WarnwCtx(ctx, "Failed to release fingerprint",
			"fingerprint", fp.String(),
			"error", err,
		)
	}
}

func (q *MemoryQueue) depthLocked() int {
	return len(q.pending) + q.inflight
}

func (q *MemoryQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	return q.depth(), nil
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	// Batches in flight finish even after ctx is cancelled; Close bounds the drain.
	runCtx := context.WithoutCancel(ctx)
	go q.run(runCtx)

	q.logger.Infow("In-process queue started",
		"max_queue_size", q.maxSize,
		"batch_size", q.batchSize,
		"batch_interval", q.interval,
	)
	return nil
}

func (q *MemoryQueue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.flush(ctx, false)
		case <-q.full:
			q.flush(ctx, true)
		}
	}
}

// flush persists buffered events in batches. With onlyFull it stops at the first
// partial batch and leaves it for the timer.
func (q *MemoryQueue) flush(ctx context.Context, onlyFull bool) {
	for {
		select {
		case <-q.stop:
			return
		default:
		}

		batch := q.take(onlyFull)
		if len(batch) == 0 {
			return
		}
		q.process(ctx, batch)
	}
}

func (q *MemoryQueue) take(onlyFull bool) []models.InboundEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n == 0 || (onlyFull && n < q.batchSize) {
		return nil
	}
	if n > q.batchSize {
		n = q.batchSize
	}

	batch := make([]models.InboundEvent, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	q.inflight += n
	return batch
}

func (q *MemoryQueue) process(ctx context.Context, batch []models.InboundEvent) {
	_ = q.processor.Process(ctx, batch)

	q.mu.Lock()
	q.inflight -= len(batch)
	depth := q.depthLocked()
	q.mu.Unlock()
	metrics.SetQueueDepth(constants.QueueMemory, depth)
}

func (q *MemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if started {
		close(q.stop)
		select {
		case <-q.done:
		case <-ctx.Done():
			return q.atRisk(ctx, ctx.Err())
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return q.atRisk(ctx, err)
		}
		batch := q.take(false)
		if len(batch) == 0 {
			break
		}
		q.process(ctx, batch)
	}

	metrics.ShutdownEventsAtRisk.Set(0)
	q.logger.InfowCtx(ctx, "In-process queue drained",
		"processed", q.stats.processed.Load(),
		"dead_lettered", q.stats.deadLettered.Load(),
	)
	return nil
}

func (q *MemoryQueue) atRisk(ctx context.Context, cause error) error {
	n := q.depth()
	metrics.ShutdownEventsAtRisk.Set(float64(n))
	q.logger.ErrorwCtx(ctx, "Shutdown deadline reached before queue drained",
		"events_at_risk", n,
		"error", cause,
	)
	return &DrainError{AtRisk: n, Err: cause}
}

func (q *MemoryQueue) Stats(ctx context.Context) StatsSnapshot {
	return q.stats.Snapshot(constants.QueueMemory, q.depth())
}

func (q *MemoryQueue) Mode() string {
	return constants.QueueMemory
}
