// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"myapi/pkg/platform/httputil"
)

const defaultCheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// Status is the readiness response body.
type Status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	logger  *slog.Logger
	timeout time.Duration
	checks  map[string]CheckFunc
}

// Option configures a Handler.
type Option func(*Handler)

func WithCheck(name string, check CheckFunc) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:  logger,
		timeout: defaultCheckTimeout,
		checks:  make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the probe routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleLiveness)
	r.Get("/readyz", h.handleReadiness)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, Status{Status: "ok"})
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

// Check runs every registered check concurrently, each bounded by the
// configured timeout.
func (h *Handler) Check(ctx context.Context) Status {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(names))
		healthy = true
	)
	var g errgroup.Group
	for _, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			err := check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[name] = "unavailable"
				h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
				return nil
			}
			results[name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	status := Status{Status: "ok", Checks: results}
	if !healthy {
		status.Status = "unavailable"
	}
	return status
}
