package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"myapi/internal/item/models"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/platform/sentinel"
	"myapi/pkg/requestcontext"
)

// Get returns an item. Soft-deleted items are visible only to admins that
// ask for them.
func (s *Service) Get(ctx context.Context, itemID id.EntityID, includeDeleted bool) (*models.Item, error) {
	ctx, span := s.tracer.Start(ctx, "item.Get")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID.String()))

	item, err := s.load(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsDeleted() && !(includeDeleted && isAdmin(ctx)) {
		return nil, dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	return item, nil
}

// sharedReadTimeout bounds a coalesced lookup, which outlives the caller
// that started it.
const sharedReadTimeout = 5 * time.Second

// load coalesces concurrent lookups of the same item. Each caller gets its
// own copy.
func (s *Service) load(ctx context.Context, itemID id.EntityID) (*models.Item, error) {
	v, err, shared := s.reads.Do(itemID.String(), func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		return s.store.Get(readCtx, itemID)
	})
	if shared {
		s.metrics.IncrementReadsCoalesced()
	}
	if err != nil {
		return nil, s.storeError(err, "load item")
	}
	return v.(*models.Item).Clone(), nil
}

// List returns one page of items ordered by ID.
func (s *Service) List(ctx context.Context, q models.ListQuery) (*models.Page, error) {
	ctx, span := s.tracer.Start(ctx, "item.List")
	defer span.End()

	q.Normalize()
	after, err := models.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, models.ListFilter{
		OwnerID:        q.OwnerID,
		Tag:            q.Tag,
		NamePrefix:     q.NamePrefix,
		IncludeDeleted: q.IncludeDeleted && isAdmin(ctx),
		After:          after,
		Limit:          q.Limit + 1,
	})
	if err != nil {
		return nil, s.storeError(err, "list items")
	}

	page := &models.Page{Items: items}
	if len(items) > q.Limit {
		page.Items = items[:q.Limit]
		page.NextCursor = models.EncodeCursor(page.Items[q.Limit-1].ID)
	}
	if page.Items == nil {
		page.Items = []*models.Item{}
	}
	span.SetAttributes(attribute.Int("item.count", len(page.Items)))
	return page, nil
}

// History lists the item's events, oldest first.
func (s *Service) History(ctx context.Context, itemID id.EntityID) ([]models.HistoryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "item.History")
	defer span.End()

	if _, err := s.Get(ctx, itemID, true); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "item history is not enabled")
	}
	events, err := s.events.History(ctx, itemID.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load item history")
	}

	entries := make([]models.HistoryEntry, 0, len(events))
	for _, event := range events {
		entry := models.HistoryEntry{
			Version:    event.Version,
			Type:       event.Type,
			ActorID:    event.Metadata["actor_id"],
			RequestID:  event.Metadata["request_id"],
			OccurredAt: event.OccurredAt,
		}
		var change models.Change
		if err := json.Unmarshal(event.Data, &change); err == nil {
			entry.Changed = change.Changed
		}
		entries = append(entries, entry)
	}
	s.auditAccess(ctx, itemID, "history")
	return entries, nil
}

// VersionAt rebuilds the item as it was at version.
func (s *Service) VersionAt(ctx context.Context, itemID id.EntityID, version int64) (*models.Item, error) {
	ctx, span := s.tracer.Start(ctx, "item.VersionAt")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID.String()), attribute.Int64("item.version", version))

	if version < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "version must be at least 1")
	}
	if _, err := s.Get(ctx, itemID, true); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "item history is not enabled")
	}
	state, _, err := s.events.LoadAt(ctx, itemID.String(), version)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "item version not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rebuild item")
	}
	if state.Version != version {
		return nil, dErrors.New(dErrors.CodeNotFound, "item version was not recorded")
	}
	s.auditAccess(ctx, itemID, "version:"+strconv.FormatInt(version, 10))
	return state.Clone(), nil
}

func (s *Service) auditAccess(ctx context.Context, itemID id.EntityID, view string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		UserID:     requestcontext.UserID(ctx),
		Action:     string(audit.EventItemAccessed),
		Resource:   "item",
		ResourceID: itemID.String(),
		Outcome:    audit.OutcomeSuccess,
		Metadata:   map[string]string{"view": view},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"item_id", itemID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
