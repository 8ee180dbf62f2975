package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/pkg/models"
)

func event(id, typ string) models.InboundEvent {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.InboundEvent{
		EventID:    id,
		EventType:  typ,
		SubjectRef: "subject-" + id,
		OccurredAt: now,
		ReceivedAt: now,
		Details:    map[string]interface{}{"k": "v"},
	}
}

func TestMemoryStore_UpsertIgnoresExistingFingerprints(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.UpsertBatch(ctx, []models.InboundEvent{event("A", "created"), event("B", "created")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first := event("A", "created")
	first.SubjectRef = "changed"
	n, err = s.UpsertBatch(ctx, []models.InboundEvent{first, event("A", "updated")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	stored, ok := s.Get("A", "created")
	require.True(t, ok)
	assert.Equal(t, "subject-A", stored.SubjectRef)
}

func TestMemoryStore_DuplicatesWithinBatch(t *testing.T) {
	s := NewMemoryStore()
	n, err := s.UpsertBatch(context.Background(), []models.InboundEvent{event("A", "t"), event("A", "t")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.UpsertBatch(ctx, []models.InboundEvent{event("A", "t")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresStore_BuildInsertCollapsesDuplicates(t *testing.T) {
	s := NewPostgresStore(nil, "")

	query, args, err := s.buildInsert([]models.InboundEvent{event("A", "t"), event("A", "t"), event("B", "t")})
	require.NoError(t, err)

	assert.Contains(t, query, `INSERT INTO "inbound_events"`)
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16)")
	assert.NotContains(t, query, "$17")
	assert.Contains(t, query, "ON CONFLICT (event_id, event_type) DO NOTHING")
	assert.Len(t, args, 16)
	assert.Equal(t, `{"k":"v"}`, args[5])
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.PersistenceConfig{Driver: constants.StoreMemory}, Backends{})
	require.NoError(t, err)
	assert.Equal(t, constants.StoreMemory, s.Name())

	_, err = NewStore(config.PersistenceConfig{Driver: constants.StorePostgres}, Backends{})
	assert.Error(t, err)

	_, err = NewStore(config.PersistenceConfig{Driver: constants.StoreMongoDB}, Backends{})
	assert.Error(t, err)

	_, err = NewStore(config.PersistenceConfig{Driver: "cassandra"}, Backends{})
	assert.Error(t, err)
}
