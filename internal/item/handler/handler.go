package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"myapi/internal/item/models"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	authmw "myapi/pkg/platform/middleware/auth"
	request "myapi/pkg/platform/middleware/request"
	"myapi/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/item-mocks.go -package=mocks Service

// Service defines the item commands and queries the handler needs.
type Service interface {
	Create(ctx context.Context, req *models.CreateItemRequest) (*models.Item, error)
	Update(ctx context.Context, itemID id.EntityID, req *models.UpdateItemRequest) (*models.Item, error)
	Delete(ctx context.Context, itemID id.EntityID, expectedVersion *int64) (*models.Item, error)
	Restore(ctx context.Context, itemID id.EntityID) (*models.Item, error)
	Get(ctx context.Context, itemID id.EntityID, includeDeleted bool) (*models.Item, error)
	List(ctx context.Context, q models.ListQuery) (*models.Page, error)
	History(ctx context.Context, itemID id.EntityID) ([]models.HistoryEntry, error)
	VersionAt(ctx context.Context, itemID id.EntityID, version int64) (*models.Item, error)
}

// Handler serves /v1/items. Routes expect an authenticated principal; the
// router mounts them behind the auth middleware.
type Handler struct {
	logger       *slog.Logger
	items        Service
	maxBodyBytes int64
}

func New(items Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		items:        items,
		maxBodyBytes: httputil.DefaultMaxBodyBytes,
	}
}

// Register registers the item routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/items", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Get("/history", h.handleHistory)
			r.Get("/versions/{version}", h.handleVersion)
			r.With(authmw.RequireRole(h.logger, models.RoleAdmin)).Post("/restore", h.handleRestore)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateItemRequest
	if err := httputil.DecodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		h.writeError(w, r, "invalid create item request", err)
		return
	}
	item, err := h.items.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, "create item failed", err)
		return
	}
	w.Header().Set("Location", "/v1/items/"+item.ID.String())
	writeItem(w, http.StatusCreated, item)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.items.Get(r.Context(), itemID, queryBool(r, "include_deleted"))
	if err != nil {
		h.writeError(w, r, "get item failed", err)
		return
	}
	if match := r.Header.Get("If-None-Match"); match != "" {
		if version, err := models.ParseETag(match); err == nil && version == item.Version {
			w.Header().Set("ETag", item.ETag())
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeItem(w, http.StatusOK, item)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, r, "invalid list query", err)
		return
	}
	page, err := h.items.List(r.Context(), q)
	if err != nil {
		h.writeError(w, r, "list items failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ListResponse{Items: page.Items, NextCursor: page.NextCursor})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req models.UpdateItemRequest
	if err := httputil.DecodeJSON(w, r, &req, h.maxBodyBytes); err != nil {
		h.writeError(w, r, "invalid update item request", err)
		return
	}
	expected, err := ifMatch(r)
	if err != nil {
		h.writeError(w, r, "invalid If-Match header", err)
		return
	}
	if expected != nil {
		req.ExpectedVersion = expected
	}
	item, err := h.items.Update(r.Context(), itemID, &req)
	if err != nil {
		h.writeError(w, r, "update item failed", err)
		return
	}
	writeItem(w, http.StatusOK, item)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	expected, err := ifMatch(r)
	if err != nil {
		h.writeError(w, r, "invalid If-Match header", err)
		return
	}
	item, err := h.items.Delete(r.Context(), itemID, expected)
	if err != nil {
		h.writeError(w, r, "delete item failed", err)
		return
	}
	w.Header().Set("ETag", item.ETag())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.items.Restore(r.Context(), itemID)
	if err != nil {
		h.writeError(w, r, "restore item failed", err)
		return
	}
	writeItem(w, http.StatusOK, item)
}

type historyResponse struct {
	ItemID string                `json:"item_id"`
	Events []models.HistoryEntry `json:"events"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	entries, err := h.items.History(r.Context(), itemID)
	if err != nil {
		h.writeError(w, r, "item history failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{ItemID: itemID.String(), Events: entries})
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.itemID(w, r)
	if !ok {
		return
	}
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		h.writeError(w, r, "invalid item version", dErrors.New(dErrors.CodeInvalidInput, "version must be an integer"))
		return
	}
	item, err := h.items.VersionAt(r.Context(), itemID, version)
	if err != nil {
		h.writeError(w, r, "item version failed", err)
		return
	}
	writeItem(w, http.StatusOK, item)
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (id.EntityID, bool) {
	itemID, err := id.ParseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "invalid item id", err)
		return id.EntityID{}, false
	}
	return itemID, true
}

func writeItem(w http.ResponseWriter, status int, item *models.Item) {
	w.Header().Set("ETag", item.ETag())
	httputil.WriteJSON(w, status, item)
}

func ifMatch(r *http.Request) (*int64, error) {
	raw := r.Header.Get("If-Match")
	if raw == "" {
		return nil, nil
	}
	version, err := models.ParseETag(raw)
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func parseListQuery(r *http.Request) (models.ListQuery, error) {
	values := r.URL.Query()
	q := models.ListQuery{
		Tag:            values.Get("tag"),
		NamePrefix:     values.Get("name_prefix"),
		Cursor:         values.Get("cursor"),
		IncludeDeleted: queryBool(r, "include_deleted"),
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		q.Limit = limit
	}
	switch owner := values.Get("owner"); owner {
	case "":
	case "me":
		q.OwnerID = requestcontext.UserID(r.Context())
	default:
		ownerID, err := id.ParseUserID(owner)
		if err != nil {
			return q, err
		}
		q.OwnerID = ownerID
	}
	return q, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
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
