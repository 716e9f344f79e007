package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"myapi/internal/item/models"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/requestcontext"
)

// Create stores a new item owned by the caller at version 1.
func (s *Service) Create(ctx context.Context, req *models.CreateItemRequest) (item *models.Item, err error) {
	defer s.observe("create", time.Now(), &err)
	ctx, span := s.tracer.Start(ctx, "item.Create")
	defer span.End()

	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()

	now := requestcontext.Now(ctx).UTC()
	item = &models.Item{
		ID:          id.NewEntityID(),
		OwnerID:     actor,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Tags:        req.Tags,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, item); err != nil {
		span.SetStatus(codes.Error, "create failed")
		return nil, s.storeError(err, "create item")
	}

	span.SetAttributes(attribute.String("item.id", item.ID.String()))
	s.record(ctx, models.EventCreated, item, nil)
	s.logger.InfoContext(ctx, "item created",
		"item_id", item.ID.String(),
		"owner_id", actor.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return item, nil
}

// Update applies a partial update. When req.ExpectedVersion is set it must
// match the current version.
func (s *Service) Update(ctx context.Context, itemID id.EntityID, req *models.UpdateItemRequest) (item *models.Item, err error) {
	defer s.observe("update", time.Now(), &err)
	ctx, span := s.tracer.Start(ctx, "item.Update")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID.String()))

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	current, err := s.loadForWrite(ctx, itemID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	changed, err := req.Apply(next)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return current, nil
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return s.commit(ctx, models.EventUpdated, current, next, changed)
}

// Delete soft-deletes an item. The version is bumped like any other write.
func (s *Service) Delete(ctx context.Context, itemID id.EntityID, expectedVersion *int64) (item *models.Item, err error) {
	defer s.observe("delete", time.Now(), &err)
	ctx, span := s.tracer.Start(ctx, "item.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID.String()))

	current, err := s.loadForWrite(ctx, itemID, expectedVersion)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	deletedAt := requestcontext.Now(ctx).UTC()
	next.DeletedAt = &deletedAt
	return s.commit(ctx, models.EventDeleted, current, next, []string{"deleted_at"})
}

// Restore undoes a soft delete. Admin only.
func (s *Service) Restore(ctx context.Context, itemID id.EntityID) (item *models.Item, err error) {
	defer s.observe("restore", time.Now(), &err)
	ctx, span := s.tracer.Start(ctx, "item.Restore")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID.String()))

	if _, err := principal(ctx); err != nil {
		return nil, err
	}
	if !isAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	current, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, s.storeError(err, "load item")
	}
	if !current.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeConflict, "item is not deleted")
	}
	next := current.Clone()
	next.DeletedAt = nil
	return s.commit(ctx, models.EventRestored, current, next, []string{"deleted_at"})
}

// loadForWrite fetches a live item and checks ownership and the caller's
// expected version.
func (s *Service) loadForWrite(ctx context.Context, itemID id.EntityID, expectedVersion *int64) (*models.Item, error) {
	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, s.storeError(err, "load item")
	}
	if current.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeNotFound, "item not found")
	}
	if err := authorizeOwner(ctx, actor, current); err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != current.Version {
		s.metrics.IncrementConflicts()
		return nil, dErrors.New(dErrors.CodeConflict, "item version does not match")
	}
	return current, nil
}

func (s *Service) commit(ctx context.Context, eventType string, current, next *models.Item, changed []string) (*models.Item, error) {
	next.Version = current.Version + 1
	next.UpdatedAt = requestcontext.Now(ctx).UTC()
	if err := s.store.Update(ctx, next, current.Version); err != nil {
		return nil, s.storeError(err, "update item")
	}
	s.reads.Forget(next.ID.String())
	s.record(ctx, eventType, next, changed)
	s.logger.InfoContext(ctx, "item changed",
		"item_id", next.ID.String(),
		"event_type", eventType,
		"version", next.Version,
		"request_id", requestcontext.RequestID(ctx),
	)
	return next, nil
}
