// Package service implements item commands and queries. Commands write the
// items table, then append to the item's event stream, emit an audit event
// and notify realtime subscribers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"myapi/internal/eventstore"
	"myapi/internal/item/metrics"
	"myapi/internal/item/models"
	"myapi/internal/platform/tracing"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/platform/sentinel"
	"myapi/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,AuditPublisher,Notifier

// Store persists the current state of items.
type Store interface {
	Create(ctx context.Context, item *models.Item) error
	Get(ctx context.Context, itemID id.EntityID) (*models.Item, error)
	Update(ctx context.Context, item *models.Item, expectedVersion int64) error
	List(ctx context.Context, filter models.ListFilter) ([]*models.Item, error)
}

// EventRepository is the item event stream. *eventstore.Repository[models.Item]
// satisfies it.
type EventRepository interface {
	Append(ctx context.Context, aggregateID string, expectedVersion int64, events ...eventstore.Event) ([]eventstore.Event, error)
	History(ctx context.Context, aggregateID string) ([]eventstore.Event, error)
	Head(ctx context.Context, aggregateID string) (int64, error)
	LoadAt(ctx context.Context, aggregateID string, version int64) (models.Item, int64, error)
}

// AuditPublisher records item changes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Notifier pushes item changes to realtime subscribers.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any)
}

type Service struct {
	store    Store
	events   EventRepository
	auditor  AuditPublisher
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	reads    singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithEventRepository(events EventRepository) Option {
	return func(s *Service) {
		s.events = events
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: tracing.Tracer("item"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEventRepository builds the item event stream on top of an event store.
func NewEventRepository(store eventstore.Store, opts ...eventstore.RepositoryOption) *eventstore.Repository[models.Item] {
	return eventstore.NewRepository(store, models.AggregateType,
		func() models.Item { return models.Item{} },
		ApplyEvent,
		opts...,
	)
}

// ApplyEvent folds one item event. Every event carries the full item, so
// the fold replaces the state. Unrecorded positions keep it.
func ApplyEvent(state models.Item, event eventstore.Event) (models.Item, error) {
	if event.Type == models.EventUnrecorded {
		return state, nil
	}
	var change models.Change
	if err := json.Unmarshal(event.Data, &change); err != nil {
		return models.Item{}, fmt.Errorf("decode %s event: %w", event.Type, err)
	}
	if change.Item == nil {
		return models.Item{}, fmt.Errorf("%s event %d has no item", event.Type, event.Version)
	}
	return *change.Item, nil
}

func principal(ctx context.Context) (id.UserID, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return userID, nil
}

func isAdmin(ctx context.Context) bool {
	return requestcontext.HasRole(ctx, models.RoleAdmin)
}

func authorizeOwner(ctx context.Context, actor id.UserID, item *models.Item) error {
	if item.OwnerID == actor || isAdmin(ctx) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "only the owner may modify this item")
}

func (s *Service) storeError(err error, op string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "item not found")
	case errors.Is(err, sentinel.ErrVersionMismatch):
		s.metrics.IncrementConflicts()
		return dErrors.Wrap(err, dErrors.CodeConflict, "item was modified by another request")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "item already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
	}
}

func (s *Service) observe(command string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = string(dErrors.CodeOf(*err))
	}
	s.metrics.RecordCommand(command, outcome, time.Since(start).Seconds())
}

// appendEvent writes event at the item's version. When an earlier append was
// lost the stream head trails the row; the missing positions are filled with
// EventUnrecorded so the stream keeps matching item versions.
func (s *Service) appendEvent(ctx context.Context, item *models.Item, event eventstore.Event) error {
	aggregateID := item.ID.String()
	_, err := s.events.Append(ctx, aggregateID, item.Version-1, event)
	if !errors.Is(err, eventstore.ErrConcurrency) {
		return err
	}
	head, headErr := s.events.Head(ctx, aggregateID)
	if headErr != nil {
		return errors.Join(err, headErr)
	}
	if head >= item.Version-1 {
		return err
	}

	events := make([]eventstore.Event, 0, item.Version-head)
	for range item.Version - 1 - head {
		gap, gapErr := eventstore.NewEvent(models.AggregateType, models.EventUnrecorded, models.Change{}, event.Metadata)
		if gapErr != nil {
			return gapErr
		}
		events = append(events, gap)
	}
	events = append(events, event)
	if _, err := s.events.Append(ctx, aggregateID, head, events...); err != nil {
		return err
	}
	s.metrics.AddEventGaps(len(events) - 1)
	s.logger.WarnContext(ctx, "filled item event stream gap",
		"item_id", aggregateID,
		"from_version", head+1,
		"to_version", item.Version-1,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// record appends the change to the event stream, audits it and notifies
// subscribers. The items table is authoritative, so failures here are logged
// and counted instead of failing the command.
func (s *Service) record(ctx context.Context, eventType string, item *models.Item, changed []string) {
	actor := requestcontext.UserID(ctx)
	requestID := requestcontext.RequestID(ctx)

	if s.events != nil {
		metadata := map[string]string{"actor_id": actor.String()}
		if requestID != "" {
			metadata["request_id"] = requestID
		}
		event, err := eventstore.NewEvent(models.AggregateType, eventType, models.Change{Item: item, Changed: changed}, metadata)
		if err == nil {
			err = s.appendEvent(ctx, item, event)
		}
		if err != nil {
			s.metrics.IncrementEventFailures()
			s.logger.ErrorContext(ctx, "failed to append item event",
				"error", err,
				"item_id", item.ID.String(),
				"event_type", eventType,
				"version", item.Version,
				"request_id", requestID,
			)
		}
	}

	if s.auditor != nil {
		meta := map[string]string{"version": strconv.FormatInt(item.Version, 10)}
		if len(changed) > 0 {
			meta["changed"] = strings.Join(changed, ",")
		}
		if err := s.auditor.Emit(ctx, audit.Event{
			UserID:     actor,
			Action:     string(models.AuditActionFor(eventType)),
			Resource:   "item",
			ResourceID: item.ID.String(),
			Outcome:    audit.OutcomeSuccess,
			Metadata:   meta,
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit audit event",
				"error", err,
				"item_id", item.ID.String(),
				"request_id", requestID,
			)
		}
	}

	if s.notifier != nil {
		s.notifier.Publish(ctx, eventType, models.Notification{
			Type:    eventType,
			ItemID:  item.ID.String(),
			OwnerID: item.OwnerID.String(),
			Version: item.Version,
			ActorID: actor.String(),
			At:      item.UpdatedAt,
			Item:    item.Clone(),
		})
	}
}
