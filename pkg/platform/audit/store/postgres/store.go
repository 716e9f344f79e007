package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "myapi/pkg/domain"
	audit "myapi/pkg/platform/audit"
	txcontext "myapi/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each Append writes the queryable audit_events row and an outbox row in the
// same transaction; the outbox relay publishes the latter to Kafka.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes an audit event and its outbox entry atomically. When ctx
// carries a transaction the writes join it.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Category = audit.AuditEvent(event.Action).Category()

	metadata, err := json.Marshal(orEmpty(event.Metadata))
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := event.ID.String()
	if !event.UserID.IsNil() {
		aggregateType = "user"
		aggregateID = event.UserID.String()
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO audit_events (
				id, category, timestamp, user_id, subject, action, resource,
				resource_id, outcome, reason, request_id, ip, user_agent, metadata
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
			event.ID,
			string(event.Category),
			event.Timestamp,
			nullString(event.UserID.String()),
			event.Subject,
			event.Action,
			event.Resource,
			event.ResourceID,
			string(event.Outcome),
			event.Reason,
			event.RequestID,
			event.IP,
			event.UserAgent,
			metadata,
		)
		if err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}

		_, err = exec.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(),
			aggregateType,
			aggregateID,
			event.Action,
			payload,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

const selectColumns = `
	SELECT id, category, timestamp, COALESCE(user_id, ''), COALESCE(subject, ''), action,
		   COALESCE(resource, ''), COALESCE(resource_id, ''), outcome, COALESCE(reason, ''),
		   COALESCE(request_id, ''), COALESCE(ip, ''), COALESCE(user_agent, ''), metadata
	FROM audit_events`

// ListByUser returns events for a specific user, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE user_id = $1 ORDER BY timestamp ASC`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRange returns events with from <= timestamp < to, oldest first.
func (s *Store) ListRange(ctx context.Context, from, to time.Time) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE timestamp >= $1 AND timestamp < $2 ORDER BY timestamp ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			userID   string
			outcome  string
			metadata []byte
		)
		if err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&userID,
			&event.Subject,
			&event.Action,
			&event.Resource,
			&event.ResourceID,
			&outcome,
			&event.Reason,
			&event.RequestID,
			&event.IP,
			&event.UserAgent,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Outcome = audit.Outcome(outcome)
		if userID != "" {
			parsed, err := id.ParseUserID(userID)
			if err != nil {
				return nil, fmt.Errorf("scan audit event user id: %w", err)
			}
			event.UserID = parsed
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
