// Package admin serves operator endpoints for reading and archiving the
// audit trail.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/platform/audit/archive"
	"myapi/pkg/platform/httputil"
	authmw "myapi/pkg/platform/middleware/auth"
	request "myapi/pkg/platform/middleware/request"
	"myapi/pkg/requestcontext"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	defaultExportSpan = 24 * time.Hour
)

// AuditReader lists recent audit events.
type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Exporter archives a window of audit events.
type Exporter interface {
	Export(ctx context.Context, from, to time.Time) (archive.Result, error)
}

// AuditPublisher records the export itself.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Handler serves /v1/admin. Every route requires the admin role; the router
// mounts it behind the auth middleware.
type Handler struct {
	logger   *slog.Logger
	events   AuditReader
	exporter Exporter
	auditor  AuditPublisher
}

// New builds the admin handler. A nil exporter makes export return 503.
func New(events AuditReader, exporter Exporter, auditor AuditPublisher, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, events: events, exporter: exporter, auditor: auditor}
}

// Register registers the admin routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(authmw.RequireRole(h.logger, "admin"))
		r.Get("/audit", h.handleListAudit)
		r.Post("/audit/export", h.handleExportAudit)
	})
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, r, "invalid audit limit", dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}
	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, "list audit failed", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditListResponse{Events: events, Count: len(events)})
}

func (h *Handler) handleExportAudit(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		h.writeError(w, r, "audit export disabled", dErrors.New(dErrors.CodeUnavailable, "audit archive is not configured"))
		return
	}
	var req ExportRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req, httputil.DefaultMaxBodyBytes); err != nil {
			h.writeError(w, r, "invalid export request", err)
			return
		}
	}
	ctx := r.Context()
	to := requestcontext.Now(ctx).UTC()
	if req.To != nil {
		to = req.To.UTC()
	}
	from := to.Add(-defaultExportSpan)
	if req.From != nil {
		from = req.From.UTC()
	}

	result, err := h.exporter.Export(ctx, from, to)
	if err != nil {
		h.writeError(w, r, "audit export failed", err)
		return
	}
	if h.auditor != nil {
		if err := h.auditor.Emit(ctx, audit.Event{
			UserID:   requestcontext.UserID(ctx),
			Action:   string(audit.EventAuditExported),
			Resource: "audit_archive",
			Outcome:  audit.OutcomeSuccess,
			Metadata: map[string]string{
				"key":   result.Key,
				"count": strconv.Itoa(result.Count),
			},
		}); err != nil {
			h.logger.ErrorContext(ctx, "failed to emit audit event", "error", err, "request_id", request.GetRequestID(ctx))
		}
	}
	h.logger.InfoContext(ctx, "audit archive exported",
		"key", result.Key,
		"count", result.Count,
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	} else {
		h.logger.WarnContext(ctx, msg, "error", err, "request_id", request.GetRequestID(ctx))
	}
	httputil.WriteError(w, r, err)
}
