package bucket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"myapi/internal/ratelimit/models"
	"myapi/pkg/platform/sentinel"
)

// InMemoryBucketStore implements BucketStore with per-process token buckets.
// It backs single-instance deployments and is the fallback when Redis is
// unavailable.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	clock   func() time.Time
}

type tokenBucket struct {
	tokens  float64
	updated time.Time
}

type Option func(*InMemoryBucketStore)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryBucketStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a new in-memory bucket store.
func New(opts ...Option) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*tokenBucket),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow checks if a request is allowed and consumes one token.
func (s *InMemoryBucketStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit)
}

// AllowN consumes cost tokens when available. A denied request consumes
// nothing.
func (s *InMemoryBucketStore) AllowN(_ context.Context, key string, cost int, limit models.Limit) (*models.RateLimitResult, error) {
	if !limit.Valid() || cost <= 0 {
		return nil, fmt.Errorf("invalid bucket parameters: %w", sentinel.ErrInvalidState)
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	if b == nil {
		b = &tokenBucket{tokens: float64(limit.Burst), updated: now}
		s.buckets[key] = b
	}
	b.tokens = refill(limit, b.tokens, b.updated, now)
	if now.After(b.updated) {
		b.updated = now
	}

	allowed := float64(cost) <= b.tokens
	if allowed {
		b.tokens -= float64(cost)
	}
	return result(limit, cost, b.tokens, allowed, now), nil
}

// Reset clears the bucket for a key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Sweep evicts buckets untouched for longer than idle. When idle is at least
// the slowest limit's refill duration an evicted bucket was already full, so
// dropping it does not change any decision.
func (s *InMemoryBucketStore) Sweep(idle time.Duration) int {
	cutoff := s.clock().Add(-idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, b := range s.buckets {
		if b.updated.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets.
func (s *InMemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RunJanitor sweeps idle buckets every interval until ctx is done.
func (s *InMemoryBucketStore) RunJanitor(ctx context.Context, interval, idle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(idle)
		}
	}
}
