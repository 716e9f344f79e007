// Package httptransport assembles the chi router: shared middleware, the
// public and authenticated route groups, and the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ratelimitmw "myapi/internal/ratelimit/middleware"
	"myapi/internal/ratelimit/models"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	authmw "myapi/pkg/platform/middleware/auth"
	"myapi/pkg/platform/middleware/metadata"
	request "myapi/pkg/platform/middleware/request"
	"myapi/pkg/platform/middleware/requesttime"
	"myapi/pkg/platform/middleware/security"
)

// Module registers its routes on a chi router.
type Module interface {
	Register(r chi.Router)
}

// Config holds the router-level settings.
type Config struct {
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	EnableHSTS        bool
	TrustProxyHeaders bool
}

// Dependencies carries everything the router mounts. Nil optional fields
// are skipped.
type Dependencies struct {
	Logger      *slog.Logger
	Config      Config
	Metrics     request.LatencyObserver
	Gatherer    prometheus.Gatherer
	Validator   authmw.JWTValidator
	Revocations authmw.TokenRevocationChecker

	RateLimit   *ratelimitmw.Middleware
	Idempotency func(http.Handler) http.Handler

	// Health serves /healthz and /readyz outside every limit.
	Health Module
	// Auth is mounted behind the auth-class rate limit.
	Auth Module
	// Protected modules require a bearer token.
	Protected []Module
	// Realtime holds long-lived connections and skips the request timeout.
	Realtime Module
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	r := chi.NewRouter()

	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata(deps.Config.TrustProxyHeaders))
	r.Use(security.Headers(security.HeadersConfig{HSTS: deps.Config.EnableHSTS}))
	r.Use(request.Logger(logger))
	if deps.Metrics != nil {
		r.Use(request.Latency(deps.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Realtime != nil {
		deps.Realtime.Register(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(deps.Config.RequestTimeout))
		r.Use(security.MaxBodySize(deps.Config.MaxBodyBytes))

		if deps.Auth != nil {
			r.Group(func(r chi.Router) {
				if deps.RateLimit != nil {
					r.Use(deps.RateLimit.RateLimit(models.ClassAuth))
				}
				deps.Auth.Register(r)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(deps.Validator, deps.Revocations, logger))
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.RateLimitByMethod())
			}
			if deps.Idempotency != nil {
				r.Use(deps.Idempotency)
			}
			for _, m := range deps.Protected {
				if m != nil {
					m.Register(r)
				}
			}
		})
	})

	return r
}
