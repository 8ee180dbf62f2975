package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/idempotency"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/models"
)

const (
	streamField       = "event"
	reclaimScanCount  = 100
	depthProbeTimeout = time.Second
	claimGrace        = time.Second
)

// boundedAdd appends to the stream only while its length is below ARGV[1]. A nil reply
// means the stream is full.
var boundedAdd = redis.NewScript(`
if redis.call('XLEN', KEYS[1]) >= tonumber(ARGV[1]) then
	return false
end
return redis.call('XADD', KEYS[1], '*', ARGV[2], ARGV[3])
`)

// StreamQueue enqueues onto a Redis stream and persists from a pool of consumer-group
// workers. Unacknowledged entries are re-delivered with exponential backoff and
// dead-lettered once they reach the attempt limit.
type StreamQueue struct {
	client    redis.UniversalClient
	index     idempotency.Index
	processor *BatchProcessor
	stats     *Stats
	logger    logger.Logger

	stream       string
	group        string
	consumer     string
	workers      int
	maxSize      int
	batchSize    int
	maxAttempts  int64
	backoffBase  time.Duration
	blockTimeout time.Duration
	claimEvery   time.Duration
	minClaimIdle time.Duration

	closed    atomic.Bool
	lastDepth atomic.Int64
	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewStreamQueue(client redis.UniversalClient, index idempotency.Index, processor *BatchProcessor, stats *Stats, cfg config.IngestConfig, log logger.Logger) *StreamQueue {
	sc := cfg.Stream
	q := &StreamQueue{
		client:       client,
		index:        index,
		processor:    processor,
		stats:        stats,
		logger:       log,
		stream:       orDefault(sc.Name, constants.DefaultStreamName),
		group:        orDefault(sc.Group, constants.DefaultStreamGroup),
		consumer:     constants.ServiceName + "-" + uuid.NewString()[:8],
		workers:      positive(sc.Workers, constants.DefaultStreamWorkers),
		maxSize:      positive(cfg.MaxQueueSize, constants.DefaultMaxQueueSize),
		batchSize:    positive(cfg.BatchSize, constants.DefaultBatchSize),
		maxAttempts:  int64(positive(sc.MaxAttempts, constants.DefaultStreamMaxAttempts)),
		backoffBase:  positiveDuration(sc.BackoffBase, constants.DefaultStreamBackoffBase),
		blockTimeout: positiveDuration(sc.BlockTimeout, constants.DefaultStreamBlockTimeout),
		claimEvery:   positiveDuration(sc.ClaimEvery, constants.DefaultStreamClaimEvery),
		minClaimIdle: positiveDuration(cfg.PersistTimeout, constants.DefaultPersistTimeout) + claimGrace,
	}
	processor.SetDepthFunc(q.cachedDepth)
	return q
}

func (q *StreamQueue) Enqueue(ctx context.Context, event models.InboundEvent) (Result, error) {
	if q.closed.Load() {
		return Result{}, apperrors.ErrShuttingDown
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		metrics.IncEnqueue(constants.QueueRedisStream, "error")
		return Result{}, apperrors.ErrServiceUnavailable.WithCause(err).WithDetail("component", "event_queue")
	}
	if depth >= q.maxSize {
		return q.rejectCapacity(), nil
	}

	fp := idempotency.NewFingerprint(event.EventID, event.EventType)
	isNew, err := q.index.CheckAndInsert(ctx, fp)
	if err != nil {
		metrics.IncEnqueue(constants.QueueRedisStream, "error")
		return Result{}, err
	}
	if !isNew {
		q.stats.duplicates.Add(1)
		metrics.IncEnqueue(constants.QueueRedisStream, ReasonDuplicate)
		return Result{Accepted: true, Reason: ReasonDuplicate}, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		q.release(ctx, fp)
		return Result{}, apperrors.ErrValidation.WithCause(err)
	}

	err = boundedAdd.Run(ctx, q.client, []string{q.stream}, q.maxSize, streamField, payload).Err()
	if errors.Is(err, redis.Nil) {
		q.release(ctx, fp)
		return q.rejectCapacity(), nil
	}
	if err != nil {
		q.release(ctx, fp)
		metrics.IncEnqueue(constants.QueueRedisStream, "error")
		return Result{}, apperrors.ErrServiceUnavailable.WithCause(err).WithDetail("component", "event_queue")
	}

	q.stats.enqueued.Add(1)
	metrics.IncEnqueue(constants.QueueRedisStream, "accepted")
	return Result{Accepted: true}, nil
}

func (q *StreamQueue) rejectCapacity() Result {
	q.stats.rejected.Add(1)
	metrics.IncEnqueue(constants.QueueRedisStream, ReasonCapacity)
	return Result{Accepted: false, Reason: ReasonCapacity}
}

func (q *StreamQueue) release(ctx context.Context, fp idempotency.Fingerprint) {
	if err := q.index.Release(ctx, fp); err != nil {
		q.logger.WarnwCtx(ctx, "Failed to release fingerprint",
			"fingerprint", fp.String(),
			"error", err,
		)
	}
}

// Depth is the stream length. Entries are deleted once acknowledged, so it counts events
// not yet persisted.
func (q *StreamQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis XLEN failed: %w", err)
	}
	q.lastDepth.Store(n)
	metrics.SetQueueDepth(constants.QueueRedisStream, int(n))
	return int(n), nil
}

func (q *StreamQueue) cachedDepth() int {
	return int(q.lastDepth.Load())
}

func (q *StreamQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.group, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(runCtx, fmt.Sprintf("%s-%d", q.consumer, i))
	}
	q.wg.Add(1)
	go q.reclaimLoop(runCtx)

	q.logger.Infow("Stream queue started",
		"stream", q.stream,
		"group", q.group,
		"consumer", q.consumer,
		"workers", q.workers,
		"max_attempts", q.maxAttempts,
	)
	return nil
}

func (q *StreamQueue) work(ctx context.Context, consumer string) {
	defer q.wg.Done()
	persistCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    int64(q.batchSize),
			Block:    q.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			q.logger.Errorw("Failed to read from stream",
				"stream", q.stream,
				"consumer", consumer,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			q.handle(persistCtx, s.Messages)
		}
	}
}

// handle persists one delivery. Failed entries stay pending for the reclaimer.
func (q *StreamQueue) handle(ctx context.Context, msgs []redis.XMessage) {
	if len(msgs) == 0 {
		return
	}

	batch, ids, bad := q.decode(msgs)
	if len(bad) > 0 {
		metrics.AddDeadLettered(constants.QueueRedisStream, "malformed", len(bad))
		q.logger.ErrorwCtx(ctx, "Dropping malformed stream entries", "ids", bad)
		q.ack(ctx, bad)
	}
	if len(batch) == 0 {
		return
	}

	if _, err := q.processor.Persist(ctx, batch); err != nil {
		return
	}
	q.ack(ctx, ids)
}

func (q *StreamQueue) decode(msgs []redis.XMessage) ([]models.InboundEvent, []string, []string) {
	batch := make([]models.InboundEvent, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	var bad []string

	for _, m := range msgs {
		raw, ok := m.Values[streamField].(string)
		if !ok {
			bad = append(bad, m.ID)
			continue
		}
		var e models.InboundEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			bad = append(bad, m.ID)
			continue
		}
		batch = append(batch, e)
		ids = append(ids, m.ID)
	}
	return batch, ids, bad
}

func (q *StreamQueue) ack(ctx context.Context, ids []string) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, ids...)
		pipe.XDel(ctx, q.stream, ids...)
		return nil
	})
	if err != nil {
		q.logger.ErrorwCtx(ctx, "Failed to acknowledge stream entries",
			"count", len(ids),
			"error", err,
		)
	}
}

func (q *StreamQueue) reclaimLoop(ctx context.Context) {
	defer q.wg.Done()
	persistCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(q.claimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.reclaim(persistCtx); err != nil {
				q.logger.Errorw("Failed to reclaim pending entries", "error", err)
			}
		}
	}
}

// retryDelay is how long an entry delivered n times must sit idle before the next attempt.
func (q *StreamQueue) retryDelay(deliveries int64) time.Duration {
	if deliveries < 1 {
		deliveries = 1
	}
	return q.backoffBase * time.Duration(int64(1)<<uint(deliveries-1))
}

// claimAfter is retryDelay floored at minClaimIdle, so an entry is never taken from a
// worker whose persist attempt may still be running.
func (q *StreamQueue) claimAfter(deliveries int64) time.Duration {
	wait := q.retryDelay(deliveries)
	if wait < q.minClaimIdle {
		wait = q.minClaimIdle
	}
	return wait
}

// reclaim re-delivers idle pending entries whose backoff elapsed and dead-letters those
// that used every attempt.
func (q *StreamQueue) reclaim(ctx context.Context) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  reclaimScanCount,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis XPENDING failed: %w", err)
	}

	var retryIDs, exhaustedIDs []string
	for _, p := range pending {
		if p.Idle < q.claimAfter(p.RetryCount) {
			continue
		}
		if p.RetryCount >= q.maxAttempts {
			exhaustedIDs = append(exhaustedIDs, p.ID)
		} else {
			retryIDs = append(retryIDs, p.ID)
		}
	}

	if len(exhaustedIDs) > 0 {
		msgs, err := q.claim(ctx, exhaustedIDs)
		if err != nil {
			return err
		}
		batch, ids, bad := q.decode(msgs)
		if len(batch) > 0 {
			q.processor.DeadLetter(ctx, batch, "max_retries_exceeded", nil, int(q.maxAttempts))
		}
		q.ack(ctx, append(ids, bad...))
	}

	if len(retryIDs) > 0 {
		msgs, err := q.claim(ctx, retryIDs)
		if err != nil {
			return err
		}
		metrics.IncRetry("stream_reclaimer")
		q.logger.Warnw("Retrying pending stream entries", "count", len(msgs))

		for start := 0; start < len(msgs); start += q.batchSize {
			end := start + q.batchSize
			if end > len(msgs) {
				end = len(msgs)
			}
			q.handle(ctx, msgs[start:end])
		}
	}
	return nil
}

// claim takes ownership of ids. Entries re-delivered or still held by a live worker are
// skipped by MinIdle.
func (q *StreamQueue) claim(ctx context.Context, ids []string) ([]redis.XMessage, error) {
	msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer + "-reclaimer",
		MinIdle:  q.minClaimIdle,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis XCLAIM failed: %w", err)
	}
	return msgs, nil
}

func (q *StreamQueue) Close(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	probeCtx, probeCancel := context.WithTimeout(context.WithoutCancel(ctx), depthProbeTimeout)
	defer probeCancel()

	select {
	case <-done:
	case <-ctx.Done():
		n := q.cachedDepth()
		metrics.ShutdownEventsAtRisk.Set(float64(n))
		q.logger.ErrorwCtx(ctx, "Shutdown deadline reached with stream workers still persisting",
			"events_at_risk", n,
			"error", ctx.Err(),
		)
		return &DrainError{AtRisk: n, Err: ctx.Err()}
	}

	metrics.ShutdownEventsAtRisk.Set(0)
	remaining, err := q.Depth(probeCtx)
	if err != nil {
		q.logger.WarnwCtx(ctx, "Could not read stream length at shutdown", "error", err)
		return nil
	}
	q.logger.InfowCtx(ctx, "Stream queue stopped",
		"stream", q.stream,
		"remaining_in_stream", remaining,
		"processed", q.stats.processed.Load(),
	)
	return nil
}

func (q *StreamQueue) Stats(ctx context.Context) StatsSnapshot {
	depth, err := q.Depth(ctx)
	if err != nil {
		depth = q.cachedDepth()
	}
	return q.stats.Snapshot(constants.QueueRedisStream, depth)
}

func (q *StreamQueue) Mode() string {
	return constants.QueueRedisStream
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func positiveDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
