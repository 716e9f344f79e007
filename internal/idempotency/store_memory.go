package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps records in a map. Expired records are replaced on the
// next Reserve or dropped by Purge.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *InMemoryStore) Reserve(_ context.Context, key, requestHash string, ttl time.Duration) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.records[key]; ok && now.Before(existing.ExpiresAt) {
		return copyRecord(existing), false, nil
	}
	record := &Record{Key: key, RequestHash: requestHash, ExpiresAt: now.Add(ttl)}
	s.records[key] = record
	return copyRecord(record), true, nil
}

func (s *InMemoryStore) Complete(_ context.Context, record *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyRecord(record)
	stored.ExpiresAt = s.now().Add(ttl)
	s.records[record.Key] = stored
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Purge drops expired records and returns how many were removed.
func (s *InMemoryStore) Purge(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var removed int64
	for key, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func copyRecord(r *Record) *Record {
	c := *r
	if r.Header != nil {
		c.Header = r.Header.Clone()
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}
