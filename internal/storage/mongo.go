package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"intake/internal/constants"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/models"
)

type MongoStore struct {
	db         *mongo.Database
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = constants.DefaultEventCollection
	}
	return &MongoStore{db: db, collection: db.Collection(collection)}
}

// mongoID is the composite _id; field order is fixed so equality matches.
func mongoID(e models.InboundEvent) bson.D {
	return bson.D{{Key: "event_id", Value: e.EventID}, {Key: "event_type", Value: e.EventType}}
}

func (s *MongoStore) UpsertBatch(ctx context.Context, events []models.InboundEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	start := time.Now()
	inserted, err := s.upsert(ctx, events)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery(constants.StoreMongoDB, "upsert_batch", status, time.Since(start))

	if err != nil {
		return 0, apperrors.ErrPersistence.WithCause(err).WithDetail("store", constants.StoreMongoDB)
	}
	return inserted, nil
}

func (s *MongoStore) upsert(ctx context.Context, events []models.InboundEvent) (int, error) {
	writes := make([]mongo.WriteModel, 0, len(events))
	for _, e := range events {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: mongoID(e)}}).
			SetUpdate(bson.D{{Key: "$setOnInsert", Value: e}}).
			SetUpsert(true))
	}

	// All-or-nothing is provided by a session transaction when the deployment supports
	// it; standalone servers fall back to an ordered bulk write.
	session, err := s.db.Client().StartSession()
	if err != nil {
		return s.bulkWrite(ctx, writes)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return s.bulkWrite(sc, writes)
	})
	if err != nil {
		if isTransactionUnsupported(err) {
			return s.bulkWrite(ctx, writes)
		}
		return 0, err
	}
	return result.(int), nil
}

func (s *MongoStore) bulkWrite(ctx context.Context, writes []mongo.WriteModel) (int, error) {
	res, err := s.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return 0, fmt.Errorf("bulk upsert failed: %w", err)
	}
	return int(res.UpsertedCount), nil
}

func isTransactionUnsupported(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Transaction numbers are only allowed") ||
		strings.Contains(msg, "IllegalOperation")
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (s *MongoStore) Close() error {
	return nil
}

func (s *MongoStore) Name() string {
	return constants.StoreMongoDB
}

// EnsureMongoIndexes creates the secondary indexes used by operators querying the
// event collection. The _id already enforces fingerprint uniqueness.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	if collection == "" {
		collection = constants.DefaultEventCollection
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subject_ref", Value: 1}},
			Options: options.Index().SetName("idx_inbound_events_subject_ref"),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_inbound_events_type_received"),
		},
		{
			Keys:    bson.D{{Key: "peer_id", Value: 1}, {Key: "received_at", Value: -1}},
			Options: options.Index().SetName("idx_inbound_events_peer_received"),
		},
	}

	_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
