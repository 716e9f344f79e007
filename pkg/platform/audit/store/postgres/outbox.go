package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "myapi/pkg/platform/tx"
)

// OutboxEntry is one unpublished outbox row.
type OutboxEntry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	Attempts      int
}

// OutboxStore reads and acknowledges outbox rows for the relay.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// ProcessBatch locks up to limit unprocessed rows (skipping rows locked by
// other relays), hands them to fn and marks the IDs fn returns as processed,
// all in one transaction. Rows fn does not acknowledge have their attempt
// counter bumped.
func (s *OutboxStore) ProcessBatch(ctx context.Context, limit int, fn func(ctx context.Context, entries []OutboxEntry) ([]uuid.UUID, error)) (int, error) {
	processed := 0
	var fnErr error
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		rows, err := exec.QueryContext(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, attempts
			FROM outbox
			WHERE processed_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select outbox batch: %w", err)
		}
		var entries []OutboxEntry
		for rows.Next() {
			var e OutboxEntry
			if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt, &e.Attempts); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox entry: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		var acked []uuid.UUID
		acked, fnErr = fn(ctx, entries)
		ackedSet := make(map[uuid.UUID]struct{}, len(acked))
		ackedIDs := make([]string, 0, len(acked))
		for _, a := range acked {
			ackedSet[a] = struct{}{}
			ackedIDs = append(ackedIDs, a.String())
		}
		var failedIDs []string
		for _, e := range entries {
			if _, ok := ackedSet[e.ID]; !ok {
				failedIDs = append(failedIDs, e.ID.String())
			}
		}

		if len(ackedIDs) > 0 {
			if _, err := exec.ExecContext(ctx,
				`UPDATE outbox SET processed_at = now(), attempts = attempts + 1 WHERE id = ANY($1::uuid[])`,
				pq.Array(ackedIDs)); err != nil {
				return fmt.Errorf("mark outbox processed: %w", err)
			}
		}
		if len(failedIDs) > 0 {
			if _, err := exec.ExecContext(ctx,
				`UPDATE outbox SET attempts = attempts + 1 WHERE id = ANY($1::uuid[])`,
				pq.Array(failedIDs)); err != nil {
				return fmt.Errorf("bump outbox attempts: %w", err)
			}
		}
		processed = len(ackedIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, fnErr
}

// Pending counts unprocessed rows.
func (s *OutboxStore) Pending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox WHERE processed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}
