// Package circuit provides a consecutive-failure circuit breaker.
//
// The breaker is closed while the primary dependency is healthy. After
// failureThreshold consecutive failures it opens; callers then serve from a
// fallback (or fail fast) until cooldown elapses, at which point the breaker is
// half-open and lets probe calls through. successThreshold consecutive probe
// successes close it again; any failure while open restarts the cooldown.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the call was short-circuited.
var ErrOpen = errors.New("circuit open")

// State is the externally visible breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChange reports a transition caused by a Record call.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time
	onStateChange    func(name string, from, to State)

	mu           sync.Mutex
	open         bool
	failureCount int
	successCount int
	openedAt     time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before allowing probes.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithOnStateChange registers a callback invoked (outside the lock) on every
// transition into open or closed, including a failed half-open trial call.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// New creates a closed breaker. Defaults: 5 failures to open, 3 successes to
// close, 30s cooldown.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 3,
		cooldown:         30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// IsOpen reports whether the breaker is open or half-open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if !b.open {
		return StateClosed
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return StateOpen
}

// Allow reports whether a call to the primary should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != StateOpen
}

// RecordFailure registers a failed primary call. The first return value is
// true when callers should use their fallback.
func (b *Breaker) RecordFailure() (bool, StateChange) {
	b.mu.Lock()
	b.failureCount++
	b.successCount = 0
	if b.open {
		from := b.stateLocked()
		b.openedAt = b.now()
		b.mu.Unlock()
		if from == StateHalfOpen {
			b.notify(StateHalfOpen, StateOpen)
		}
		return true, StateChange{}
	}
	if b.failureCount >= b.failureThreshold {
		b.open = true
		b.openedAt = b.now()
		b.mu.Unlock()
		b.notify(StateClosed, StateOpen)
		return true, StateChange{Opened: true}
	}
	b.mu.Unlock()
	return false, StateChange{}
}

// RecordSuccess registers a successful primary call. The first return value
// is true when callers may use the primary again.
func (b *Breaker) RecordSuccess() (bool, StateChange) {
	b.mu.Lock()
	if !b.open {
		b.failureCount = 0
		b.mu.Unlock()
		return true, StateChange{}
	}
	b.successCount++
	if b.successCount >= b.successThreshold {
		from := b.stateLocked()
		b.open = false
		b.failureCount = 0
		b.successCount = 0
		b.mu.Unlock()
		b.notify(from, StateClosed)
		return true, StateChange{Closed: true}
	}
	b.mu.Unlock()
	return false, StateChange{}
}

// Reset closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.stateLocked()
	b.open = false
	b.failureCount = 0
	b.successCount = 0
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// Execute runs fn unless the breaker is open, recording the outcome.
// Context cancellation by the caller is not counted as a dependency failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
	default:
		b.RecordFailure()
	}
	return err
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
