package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"intake/internal/constants"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/models"
)

const postgresColumns = constants.PostgresEventColumns

type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = constants.DefaultEventsTable
	}
	return &PostgresStore{db: db, table: table}
}

func (s *PostgresStore) UpsertBatch(ctx context.Context, events []models.InboundEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	start := time.Now()
	inserted, err := s.upsert(ctx, events)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatabaseQuery(constants.StorePostgres, "upsert_batch", status, time.Since(start))

	if err != nil {
		return 0, apperrors.ErrPersistence.WithCause(err).WithDetail("store", constants.StorePostgres)
	}
	return inserted, nil
}

func (s *PostgresStore) upsert(ctx context.Context, events []models.InboundEvent) (int, error) {
	query, args, err := s.buildInsert(events)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return 0, fmt.Errorf("insert failed (%s %s): %w", pqErr.Code, pqErr.Code.Name(), err)
		}
		return 0, fmt.Errorf("insert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// buildInsert renders one multi-row INSERT ... ON CONFLICT DO NOTHING. Rows sharing a
// fingerprint inside the batch are collapsed first since a single statement cannot
// touch the same conflict target twice.
func (s *PostgresStore) buildInsert(events []models.InboundEvent) (string, []interface{}, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(s.table))
	b.WriteString(" (event_id, event_type, subject_ref, occurred_at, received_at, details, correlation_id, peer_id) VALUES ")

	seen := make(map[fingerprintKey]struct{}, len(events))
	args := make([]interface{}, 0, len(events)*postgresColumns)
	row := 0

	for _, e := range events {
		key := fingerprintKey{id: e.EventID, typ: e.EventType}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		details := e.Details
		if details == nil {
			details = map[string]interface{}{}
		}
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode details for %s:%s: %w", e.EventID, e.EventType, err)
		}

		if row > 0 {
			b.WriteString(", ")
		}
		base := row * postgresColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)

		args = append(args,
			e.EventID, e.EventType, e.SubjectRef,
			e.OccurredAt.UTC(), e.ReceivedAt.UTC(), string(detailsJSON),
			nullString(e.CorrelationID), nullString(e.PeerID),
		)
		row++
	}

	b.WriteString(" ON CONFLICT (event_id, event_type) DO NOTHING")
	return b.String(), args, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+pq.QuoteIdentifier(s.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) Name() string {
	return constants.StorePostgres
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
