package revocation

import (
	"context"
	"sync"
	"time"
)

// InMemoryTRL keeps revoked JTIs in a map until their TTL elapses.
// Suitable for single-instance deployments and tests.
type InMemoryTRL struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	clock   Clock
}

type InMemoryTRLOption func(*InMemoryTRL)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) InMemoryTRLOption {
	return func(trl *InMemoryTRL) {
		if clock != nil {
			trl.clock = clock
		}
	}
}

func NewInMemoryTRL(opts ...InMemoryTRLOption) *InMemoryTRL {
	trl := &InMemoryTRL{
		revoked: make(map[string]time.Time),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(trl)
	}
	return trl
}

// RevokeToken adds a token to the revocation list with TTL.
func (t *InMemoryTRL) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revoked[jti] = t.clock().Add(ttl)
	return nil
}

// RevokeTokens revokes several tokens sharing a TTL.
func (t *InMemoryTRL) RevokeTokens(ctx context.Context, jtis []string, ttl time.Duration) error {
	for _, jti := range nonEmpty(jtis) {
		if err := t.RevokeToken(ctx, jti, ttl); err != nil {
			return err
		}
	}
	return nil
}

// IsRevoked checks if a token is in the revocation list.
func (t *InMemoryTRL) IsRevoked(_ context.Context, jti string) (bool, error) {
	t.mu.RLock()
	expiresAt, ok := t.revoked[jti]
	t.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return t.clock().Before(expiresAt), nil
}

// Consume revokes jti unless it is already revoked. It reports whether this
// call performed the revocation.
func (t *InMemoryTRL) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if err := validateTTL(ttl); err != nil {
		return false, err
	}
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if expiresAt, ok := t.revoked[jti]; ok && now.Before(expiresAt) {
		return false, nil
	}
	t.revoked[jti] = now.Add(ttl)
	return true, nil
}

// PurgeExpired drops expired entries and returns how many were removed.
func (t *InMemoryTRL) PurgeExpired(_ context.Context) (int64, error) {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed int64
	for jti, expiresAt := range t.revoked {
		if !now.Before(expiresAt) {
			delete(t.revoked, jti)
			removed++
		}
	}
	return removed, nil
}
