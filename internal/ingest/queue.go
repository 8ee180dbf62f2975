// Package ingest accepts authenticated events into a bounded queue and persists them in
// small batches.
package ingest

import (
	"context"
	"fmt"

	"intake/pkg/models"
)

const (
	ReasonCapacity  = "capacity"
	ReasonDuplicate = "duplicate"
)

// Result is the outcome of one Enqueue call. A duplicate is still accepted.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// EventIngestionQueue is implemented by each queue substrate. Both substrates apply the
// same capacity and idempotency rules.
type EventIngestionQueue interface {
	// Enqueue applies backpressure, then deduplicates, then buffers the event.
	Enqueue(ctx context.Context, event models.InboundEvent) (Result, error)
	Depth(ctx context.Context) (int, error)
	Start(ctx context.Context) error
	// Close stops accepting events and drains what is buffered until ctx is done.
	Close(ctx context.Context) error
	Stats(ctx context.Context) StatsSnapshot
	Mode() string
}

// DeadLetterSink receives batches that exhausted their persistence attempts.
type DeadLetterSink interface {
	Send(ctx context.Context, letter models.DeadLetter) error
}

// DrainError is returned by Close when the deadline expires with events still buffered.
type DrainError struct {
	AtRisk int
	Err    error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("drain incomplete, %d events at risk: %v", e.AtRisk, e.Err)
}

func (e *DrainError) Unwrap() error {
	return e.Err
}
