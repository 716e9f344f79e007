package models

import (
	"math"
	"time"

	dErrors "myapi/pkg/domain-errors"
)

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassAuth: credential endpoints under /v1/auth
	ClassAuth EndpointClass = "auth"
	// ClassRead: GET and HEAD requests
	ClassRead EndpointClass = "read"
	// ClassWrite: mutations
	ClassWrite EndpointClass = "write"
)

// IsValid checks if the endpoint class is one of the supported enum values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAuth, ClassRead, ClassWrite:
		return true
	}
	return false
}

// ParseEndpointClass validates a class name.
func ParseEndpointClass(s string) (EndpointClass, error) {
	c := EndpointClass(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid endpoint class: must be auth, read or write")
	}
	return c, nil
}

// Limit configures a token bucket: Burst is the capacity and Rate the refill
// in tokens per second.
type Limit struct {
	Rate  float64
	Burst int
}

// Valid reports whether the limit can admit any request.
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// RefillDuration is how long an empty bucket takes to become full again.
func (l Limit) RefillDuration() time.Duration {
	if l.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(l.Burst) / l.Rate * float64(time.Second))
}

// LongestRefill returns the largest RefillDuration among limits.
func LongestRefill(limits map[EndpointClass]Limit) time.Duration {
	var longest time.Duration
	for _, l := range limits {
		longest = max(longest, l.RefillDuration())
	}
	return longest
}

// TimeFor returns how long until n tokens accumulate, given the current
// level.
func (l Limit) TimeFor(tokens, n float64) time.Duration {
	if tokens >= n || l.Rate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil((n - tokens) / l.Rate * float64(time.Second)))
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Bypassed   bool          `json:"bypassed,omitempty"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // only set when not allowed
	// Degraded marks decisions served by the in-memory fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// MoreRestrictive returns the result with fewer remaining requests,
// or the later reset time if remaining counts are equal.
func MoreRestrictive(a, b *RateLimitResult) *RateLimitResult {
	if a.Remaining < b.Remaining {
		return a
	}
	if b.Remaining < a.Remaining {
		return b
	}
	if a.ResetAt.After(b.ResetAt) {
		return a
	}
	return b
}
