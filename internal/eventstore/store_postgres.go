package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"myapi/internal/platform/postgres"
	"myapi/pkg/platform/sentinel"
)

// PostgresStore keeps streams in the events table. The unique
// (aggregate_id, version) constraint backs the optimistic check when two
// writers race past the head read.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, clock: time.Now}
}

func (s *PostgresStore) Append(ctx context.Context, aggregateID string, expectedVersion int64, events ...Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	stamped := stamp(aggregateID, expectedVersion, s.clock().UTC(), events)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var head int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&head); err != nil {
			return fmt.Errorf("read stream head: %w", err)
		}
		if head != expectedVersion {
			return fmt.Errorf("aggregate %s at version %d, expected %d: %w", aggregateID, head, expectedVersion, ErrConcurrency)
		}

		batch := &pgx.Batch{}
		for _, e := range stamped {
			metadata, err := json.Marshal(nonNilMetadata(e.Metadata))
			if err != nil {
				return fmt.Errorf("marshal event metadata: %w", err)
			}
			batch.Queue(`
				INSERT INTO events (id, aggregate_id, aggregate_type, version, type, data, metadata, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.ID, e.AggregateID, e.AggregateType, e.Version, e.Type, []byte(e.Data), metadata, e.OccurredAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if postgres.IsUniqueViolation(err) {
				return fmt.Errorf("aggregate %s: %w", aggregateID, ErrConcurrency)
			}
			return fmt.Errorf("insert events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stamped, nil
}

func (s *PostgresStore) Load(ctx context.Context, aggregateID string, fromVersion, toVersion int64) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, version, type, data, metadata, occurred_at
		FROM events
		WHERE aggregate_id = $1 AND version >= $2 AND ($3 <= 0 OR version <= $3)
		ORDER BY version`,
		aggregateID, max(fromVersion, 1), toVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e        Event
			data     []byte
			metadata []byte
		)
		if err := row.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.Version, &e.Type, &data, &metadata, &e.OccurredAt); err != nil {
			return Event{}, err
		}
		e.Data = data
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return Event{}, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
		e.OccurredAt = e.OccurredAt.UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Head(ctx context.Context, aggregateID string) (int64, error) {
	var head int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&head); err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	return head, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.clock().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET state = EXCLUDED.state, created_at = EXCLUDED.created_at`,
		snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, []byte(snapshot.State), snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, aggregateID string, maxVersion int64) (*Snapshot, error) {
	var (
		snap  Snapshot
		state []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1 AND ($2 <= 0 OR version <= $2)
		ORDER BY version DESC
		LIMIT 1`,
		aggregateID, maxVersion,
	).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &state, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.State = state
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
