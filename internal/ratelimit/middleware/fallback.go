package middleware

import (
	"context"
	"log/slog"

	"myapi/internal/ratelimit/metrics"
	"myapi/internal/ratelimit/models"
	"myapi/pkg/platform/circuit"
)

// ResilientLimiter serves decisions from the primary limiter while its
// breaker is closed and from an in-memory fallback while it is open.
// Fallback decisions are marked Degraded.
type ResilientLimiter struct {
	primary  RateLimiter
	fallback RateLimiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type ResilientOption func(*ResilientLimiter)

func WithFallbackLogger(logger *slog.Logger) ResilientOption {
	return func(l *ResilientLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithFallbackMetrics(m *metrics.Metrics) ResilientOption {
	return func(l *ResilientLimiter) {
		l.metrics = m
	}
}

// NewResilientLimiter wraps primary with breaker. A nil breaker gets the
// package defaults.
func NewResilientLimiter(primary, fallback RateLimiter, breaker *circuit.Breaker, opts ...ResilientOption) *ResilientLimiter {
	if breaker == nil {
		breaker = circuit.New("ratelimit")
	}
	l := &ResilientLimiter{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ResilientLimiter) CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	return l.run(ctx, func(rl RateLimiter) (*models.RateLimitResult, error) {
		return rl.CheckIP(ctx, ip, class)
	})
}

func (l *ResilientLimiter) CheckBoth(ctx context.Context, ip, userID string, class models.EndpointClass) (*models.RateLimitResult, error) {
	return l.run(ctx, func(rl RateLimiter) (*models.RateLimitResult, error) {
		return rl.CheckBoth(ctx, ip, userID, class)
	})
}

// Degraded reports whether decisions currently come from the fallback.
func (l *ResilientLimiter) Degraded() bool {
	return l.breaker.State() == circuit.StateOpen
}

func (l *ResilientLimiter) run(ctx context.Context, check func(RateLimiter) (*models.RateLimitResult, error)) (*models.RateLimitResult, error) {
	if l.breaker.Allow() {
		result, err := check(l.primary)
		if err == nil {
			if _, change := l.breaker.RecordSuccess(); change.Closed {
				l.metrics.SetDegraded(false)
				l.logger.InfoContext(ctx, "rate limit store recovered, leaving degraded mode", "breaker", l.breaker.Name())
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		l.metrics.IncrementStoreErrors()
		if _, change := l.breaker.RecordFailure(); change.Opened {
			l.metrics.SetDegraded(true)
			l.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback",
				"breaker", l.breaker.Name(),
				"error", err,
			)
		}
	}

	result, err := check(l.fallback)
	if err != nil {
		return nil, err
	}
	result.Degraded = true
	return result, nil
}
