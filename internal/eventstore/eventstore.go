// Package eventstore is an append-only, per-aggregate event journal with
// optimistic concurrency and state snapshots.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"myapi/pkg/platform/sentinel"
)

// ErrConcurrency is returned by Append when the stream head moved past the
// expected version.
var ErrConcurrency = fmt.Errorf("event stream concurrency conflict: %w", sentinel.ErrVersionMismatch)

// Event is an immutable fact about one aggregate. Versions within a stream
// start at 1 and have no gaps.
type Event struct {
	ID            uuid.UUID         `json:"id"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int64             `json:"version"`
	Type          string            `json:"type"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Snapshot is folded state as of Version.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store persists event streams and snapshots.
type Store interface {
	// Append writes events after expectedVersion. Event versions are assigned
	// by the store.
	Append(ctx context.Context, aggregateID string, expectedVersion int64, events ...Event) ([]Event, error)
	// Load returns events with fromVersion <= version <= toVersion in order.
	// toVersion <= 0 means the stream head.
	Load(ctx context.Context, aggregateID string, fromVersion, toVersion int64) ([]Event, error)
	// Head returns the stream's latest version, 0 for an empty stream.
	Head(ctx context.Context, aggregateID string) (int64, error)
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	// LatestSnapshot returns the newest snapshot at or below maxVersion, or
	// sentinel.ErrNotFound. maxVersion <= 0 means any.
	LatestSnapshot(ctx context.Context, aggregateID string, maxVersion int64) (*Snapshot, error)
}

// NewEvent builds an unsaved event with a JSON payload.
func NewEvent(aggregateType, eventType string, data any, metadata map[string]string) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		Type:          eventType,
		Data:          raw,
		Metadata:      metadata,
	}, nil
}

// stamp assigns identity, stream position and time to unsaved events.
func stamp(aggregateID string, expectedVersion int64, now time.Time, events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.AggregateID = aggregateID
		e.Version = expectedVersion + int64(i) + 1
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		out[i] = e
	}
	return out
}
