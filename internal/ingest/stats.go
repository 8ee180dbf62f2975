package ingest

import (
	"sync/atomic"
	"time"

	"intake/internal/slo"
)

// Stats is shared by a queue and its processor.
type Stats struct {
	enqueued     atomic.Int64
	duplicates   atomic.Int64
	rejected     atomic.Int64
	processed    atomic.Int64
	inserted     atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	batches      atomic.Int64
	batchEvents  atomic.Int64
	latency      *slo.Window
}

func NewStats(window int) *Stats {
	return &Stats{latency: slo.NewWindow(window)}
}

type StatsSnapshot struct {
	Substrate        string  `json:"substrate"`
	Enqueued         int64   `json:"enqueued"`
	Duplicates       int64   `json:"duplicates"`
	Rejected         int64   `json:"rejected"`
	Processed        int64   `json:"processed"`
	Inserted         int64   `json:"inserted"`
	Failed           int64   `json:"failed"`
	DeadLettered     int64   `json:"dead_lettered"`
	BatchesProcessed int64   `json:"batches_processed"`
	AvgBatchSize     float64 `json:"avg_batch_size"`
	P50Ms            float64 `json:"p50_ms"`
	P95Ms            float64 `json:"p95_ms"`
	P99Ms            float64 `json:"p99_ms"`
	QueueDepth       int     `json:"queue_depth"`
}

func (s *Stats) recordBatch(size, inserted int, d time.Duration) {
	s.batches.Add(1)
	s.batchEvents.Add(int64(size))
	s.processed.Add(int64(size))
	s.inserted.Add(int64(inserted))
	s.latency.AddDuration(d)
}

func (s *Stats) Snapshot(substrate string, depth int) StatsSnapshot {
	sum := s.latency.Summary()
	batches := s.batches.Load()

	var avg float64
	if batches > 0 {
		avg = float64(s.batchEvents.Load()) / float64(batches)
	}

	return StatsSnapshot{
		Substrate:        substrate,
		Enqueued:         s.enqueued.Load(),
		Duplicates:       s.duplicates.Load(),
		Rejected:         s.rejected.Load(),
		Processed:        s.processed.Load(),
		Inserted:         s.inserted.Load(),
		Failed:           s.failed.Load(),
		DeadLettered:     s.deadLettered.Load(),
		BatchesProcessed: batches,
		AvgBatchSize:     avg,
		P50Ms:            sum.P50,
		P95Ms:            sum.P95,
		P99Ms:            sum.P99,
		QueueDepth:       depth,
	}
}
