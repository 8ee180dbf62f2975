// Package storage persists event batches with upsert-or-ignore semantics keyed by
// (event_id, event_type).
package storage

import (
	"context"

	"intake/pkg/models"
)

type Store interface {
	// UpsertBatch writes events in one transaction, ignoring fingerprints that already
	// exist. It returns how many rows were newly inserted.
	UpsertBatch(ctx context.Context, events []models.InboundEvent) (int, error)
	Count(ctx context.Context) (int64, error)
	Name() string
	// Close releases resources owned by the store. Shared connections are closed by
	// their owner.
	Close() error
}
