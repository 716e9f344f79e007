package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// PostgresStore keeps records in idempotency_keys. Status 0 marks a pending
// reservation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (*Record, bool, error) {
	expiresAt := time.Now().Add(ttl).UTC()
	// An expired row is taken over by the new reservation.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, headers, body, expires_at)
		VALUES ($1, $2, 0, '{}', NULL, $3)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash, status = 0, headers = '{}', body = NULL, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= now()
	`, key, requestHash, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if n == 1 {
		return &Record{Key: key, RequestHash: requestHash, ExpiresAt: expiresAt}, true, nil
	}

	var (
		record  Record
		headers []byte
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT key, request_hash, status, headers, body, expires_at
		FROM idempotency_keys WHERE key = $1
	`, key).Scan(&record.Key, &record.RequestHash, &record.Status, &headers, &record.Body, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.Reserve(ctx, key, requestHash, ttl)
	}
	if err != nil {
		return nil, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if len(headers) > 0 {
		record.Header = http.Header{}
		if err := json.Unmarshal(headers, &record.Header); err != nil {
			return nil, false, fmt.Errorf("decode idempotency headers: %w", err)
		}
	}
	return &record, false, nil
}

func (s *PostgresStore) Complete(ctx context.Context, record *Record, ttl time.Duration) error {
	headers, err := json.Marshal(record.Header)
	if err != nil {
		return fmt.Errorf("encode idempotency headers: %w", err)
	}
	if record.Header == nil {
		headers = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, headers = $3::jsonb, body = $4, expires_at = $5
		WHERE key = $1
	`, record.Key, record.Status, string(headers), record.Body, time.Now().Add(ttl).UTC())
	if err != nil {
		return fmt.Errorf("store idempotency response: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Purge deletes expired rows and reports how many were removed.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
