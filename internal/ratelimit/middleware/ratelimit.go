package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"myapi/internal/ratelimit/models"
	"myapi/internal/ratelimit/observability"
	"myapi/pkg/platform/httputil"
	"myapi/pkg/requestcontext"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderStatus    = "X-RateLimit-Status"
)

type RateLimiter interface {
	CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error)
	CheckBoth(ctx context.Context, ip, userID string, class models.EndpointClass) (*models.RateLimitResult, error)
}

type Middleware struct {
	limiter  RateLimiter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits by client IP for a fixed class.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return m.handle(func(*http.Request) models.EndpointClass { return class })
}

// RateLimitByMethod classifies GET, HEAD and OPTIONS as reads and every other
// method as a write. Authenticated requests are also limited per user.
func (m *Middleware) RateLimitByMethod() func(http.Handler) http.Handler {
	return m.handle(ClassForMethod)
}

// ClassForMethod maps an HTTP method to its endpoint class.
func ClassForMethod(r *http.Request) models.EndpointClass {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return models.ClassRead
	default:
		return models.ClassWrite
	}
}

func (m *Middleware) handle(classify func(*http.Request) models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			class := classify(r)

			var (
				result *models.RateLimitResult
				err    error
			)
			userID := requestcontext.UserID(ctx)
			if userID.IsNil() {
				result, err = m.limiter.CheckIP(ctx, ip, class)
			} else {
				result, err = m.limiter.CheckBoth(ctx, ip, userID.String(), class)
			}
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"ip_prefix", observability.AnonymizeIP(ip),
					"endpoint_class", string(class),
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)

			if !result.Allowed {
				httputil.WriteRateLimited(w, r, result.RetryAfter, "rate limit exceeded for "+string(class)+" requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set(HeaderLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set(HeaderStatus, "degraded")
	}
}
