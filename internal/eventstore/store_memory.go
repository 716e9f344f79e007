package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"myapi/pkg/platform/sentinel"
)

// InMemoryStore keeps streams in process memory.
type InMemoryStore struct {
	mu        sync.RWMutex
	streams   map[string][]Event
	snapshots map[string][]Snapshot
	clock     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams:   make(map[string][]Event),
		snapshots: make(map[string][]Snapshot),
		clock:     time.Now,
	}
}

func (s *InMemoryStore) Append(_ context.Context, aggregateID string, expectedVersion int64, events ...Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	if head := int64(len(stream)); head != expectedVersion {
		return nil, fmt.Errorf("aggregate %s at version %d, expected %d: %w", aggregateID, head, expectedVersion, ErrConcurrency)
	}
	stamped := stamp(aggregateID, expectedVersion, s.clock().UTC(), events)
	s.streams[aggregateID] = append(stream, stamped...)
	return stamped, nil
}

func (s *InMemoryStore) Load(_ context.Context, aggregateID string, fromVersion, toVersion int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	from := max(fromVersion, 1)
	to := int64(len(stream))
	if toVersion > 0 && toVersion < to {
		to = toVersion
	}
	if from > to {
		return []Event{}, nil
	}
	out := make([]Event, to-from+1)
	copy(out, stream[from-1:to])
	return out, nil
}

func (s *InMemoryStore) Head(_ context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[aggregateID])), nil
}

func (s *InMemoryStore) SaveSnapshot(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.clock().UTC()
	}
	existing := s.snapshots[snapshot.AggregateID]
	for i, snap := range existing {
		if snap.Version == snapshot.Version {
			existing[i] = snapshot
			return nil
		}
	}
	s.snapshots[snapshot.AggregateID] = append(existing, snapshot)
	return nil
}

func (s *InMemoryStore) LatestSnapshot(_ context.Context, aggregateID string, maxVersion int64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Snapshot
	for _, snap := range s.snapshots[aggregateID] {
		if maxVersion > 0 && snap.Version > maxVersion {
			continue
		}
		if best == nil || snap.Version > best.Version {
			found := snap
			best = &found
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return best, nil
}
