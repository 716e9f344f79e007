package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"myapi/pkg/platform/sentinel"
)

// DefaultSnapshotEvery is the stream length between snapshots.
const DefaultSnapshotEvery = 10

// Reducer folds one event into state.
type Reducer[S any] func(state S, event Event) (S, error)

type repositoryConfig struct {
	snapshotEvery int64
	logger        *slog.Logger
}

type RepositoryOption func(*repositoryConfig)

// WithSnapshotEvery sets how many events separate snapshots. Values below 1
// disable snapshots.
func WithSnapshotEvery(n int64) RepositoryOption {
	return func(c *repositoryConfig) {
		c.snapshotEvery = n
	}
}

func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(c *repositoryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Repository rebuilds aggregate state of type S from the latest snapshot at
// or below the requested version plus the events after it.
type Repository[S any] struct {
	store         Store
	aggregateType string
	initial       func() S
	apply         Reducer[S]
	cfg           repositoryConfig
}

func NewRepository[S any](store Store, aggregateType string, initial func() S, apply Reducer[S], opts ...RepositoryOption) *Repository[S] {
	cfg := repositoryConfig{snapshotEvery: DefaultSnapshotEvery, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repository[S]{
		store:         store,
		aggregateType: aggregateType,
		initial:       initial,
		apply:         apply,
		cfg:           cfg,
	}
}

// Load returns the current state and stream version.
func (r *Repository[S]) Load(ctx context.Context, aggregateID string) (S, int64, error) {
	return r.LoadAt(ctx, aggregateID, 0)
}

// LoadAt returns state as of version (<= 0 for the head). A stream that is
// empty or shorter than version yields sentinel.ErrNotFound.
func (r *Repository[S]) LoadAt(ctx context.Context, aggregateID string, version int64) (S, int64, error) {
	state := r.initial()
	var current int64

	snap, err := r.store.LatestSnapshot(ctx, aggregateID, version)
	switch {
	case err == nil:
		if err := json.Unmarshal(snap.State, &state); err != nil {
			return state, 0, fmt.Errorf("decode snapshot %s@%d: %w", aggregateID, snap.Version, err)
		}
		current = snap.Version
	case !errors.Is(err, sentinel.ErrNotFound):
		return state, 0, fmt.Errorf("load snapshot: %w", err)
	}

	events, err := r.store.Load(ctx, aggregateID, current+1, version)
	if err != nil {
		return state, 0, fmt.Errorf("load events: %w", err)
	}
	for _, e := range events {
		state, err = r.apply(state, e)
		if err != nil {
			return state, 0, fmt.Errorf("apply %s@%d: %w", e.Type, e.Version, err)
		}
		current = e.Version
	}

	if current == 0 || (version > 0 && current < version) {
		return r.initial(), 0, fmt.Errorf("aggregate %s version %d: %w", aggregateID, version, sentinel.ErrNotFound)
	}
	return state, current, nil
}

// History returns the full event stream.
func (r *Repository[S]) History(ctx context.Context, aggregateID string) ([]Event, error) {
	return r.store.Load(ctx, aggregateID, 1, 0)
}

// Head returns the stream's latest version.
func (r *Repository[S]) Head(ctx context.Context, aggregateID string) (int64, error) {
	return r.store.Head(ctx, aggregateID)
}

// Append writes events and snapshots the new head when the append crosses a
// snapshot boundary. Snapshot failures are logged, not returned.
func (r *Repository[S]) Append(ctx context.Context, aggregateID string, expectedVersion int64, events ...Event) ([]Event, error) {
	for i := range events {
		if events[i].AggregateType == "" {
			events[i].AggregateType = r.aggregateType
		}
	}
	saved, err := r.store.Append(ctx, aggregateID, expectedVersion, events...)
	if err != nil {
		return nil, err
	}
	if len(saved) == 0 || r.cfg.snapshotEvery < 1 {
		return saved, nil
	}
	head := saved[len(saved)-1].Version
	if head/r.cfg.snapshotEvery > expectedVersion/r.cfg.snapshotEvery {
		if err := r.snapshot(ctx, aggregateID, head); err != nil {
			r.cfg.logger.WarnContext(ctx, "failed to save snapshot",
				"error", err,
				"aggregate_id", aggregateID,
				"version", head,
			)
		}
	}
	return saved, nil
}

func (r *Repository[S]) snapshot(ctx context.Context, aggregateID string, version int64) error {
	state, current, err := r.LoadAt(ctx, aggregateID, version)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.store.SaveSnapshot(ctx, Snapshot{
		AggregateID:   aggregateID,
		AggregateType: r.aggregateType,
		Version:       current,
		State:         raw,
	})
}
