// Package idempotency replays the stored response of a POST that carries an
// Idempotency-Key the caller already used.
package idempotency

import (
	"context"
	"net/http"
	"time"
)

// Record is the reservation or stored outcome for one key. Status 0 means
// the first request is still in flight.
type Record struct {
	Key         string      `json:"key"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

func (r *Record) Pending() bool {
	return r.Status == 0
}

// Store reserves keys and keeps completed responses until they expire.
type Store interface {
	// Reserve claims key for a new request. When the key is already held
	// it returns the existing record and false.
	Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (*Record, bool, error)
	// Complete stores the response for a reserved key.
	Complete(ctx context.Context, record *Record, ttl time.Duration) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}
