package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"myapi/internal/auth/models"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	authmw "myapi/pkg/platform/middleware/auth"
	request "myapi/pkg/platform/middleware/request"
)

//go:generate mockgen -source=handler.go -destination=mocks/auth-mocks.go -package=mocks Service

// Service defines the interface for account and token operations.
type Service interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req *models.TokenRequest) (*models.TokenPair, error)
	Refresh(ctx context.Context, req *models.RefreshRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*models.User, error)
}

// Handler serves /v1/auth.
type Handler struct {
	logger       *slog.Logger
	auth         Service
	validator    authmw.JWTValidator
	revocations  authmw.TokenRevocationChecker
	maxBodyBytes int64
}

func New(auth Service, validator authmw.JWTValidator, revocations authmw.TokenRevocationChecker, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		auth:         auth,
		validator:    validator,
		revocations:  revocations,
		maxBodyBytes: httputil.DefaultMaxBodyBytes,
	}
}

// Register registers the auth routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/token", h.handleToken)
		r.Post("/refresh", h.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(h.validator, h.revocations, h.logger))
			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)
		})
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		h.writeError(w, r, "invalid register request", err)
		return
	}
	user, err := h.auth.Register(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "register failed", err)
		return
	}
	w.Header().Set("Location", "/v1/auth/me")
	httputil.WriteJSON(w, http.StatusCreated, user.ToResponse())
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if err := httputil.DecodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		h.writeError(w, r, "invalid token request", err)
		return
	}
	pair, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "token request failed", err)
		return
	}
	writeTokenPair(w, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := httputil.DecodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		h.writeError(w, r, "invalid refresh request", err)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "refresh failed", err)
		return
	}
	writeTokenPair(w, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
			h.writeError(w, r, "invalid logout request", err)
			return
		}
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, r, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context())
	if err != nil {
		h.writeError(w, r, "me lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user.ToResponse())
}

func writeTokenPair(w http.ResponseWriter, pair *models.TokenPair) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	httputil.WriteJSON(w, http.StatusOK, pair)
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
