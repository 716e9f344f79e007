package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"myapi/internal/item/models"
	id "myapi/pkg/domain"
)

// InMemoryStore keeps items in a map guarded by a RWMutex. Items are cloned
// on the way in and out.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[id.EntityID]*models.Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[id.EntityID]*models.Item)}
}

func (s *InMemoryStore) Create(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return ErrAlreadyExists
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, itemID id.EntityID) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// Update replaces the stored item when its version equals expectedVersion.
func (s *InMemoryStore) Update(_ context.Context, item *models.Item, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.ToLower(filter.NamePrefix)
	var out []*models.Item
	for _, item := range s.items {
		if item.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		if !filter.OwnerID.IsNil() && item.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Tag != "" && !slices.Contains(item.Tags, filter.Tag) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(item.Name), prefix) {
			continue
		}
		if !filter.After.IsNil() && item.ID.Compare(filter.After) <= 0 {
			continue
		}
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b *models.Item) int { return a.ID.Compare(b.ID) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	for i, item := range out {
		out[i] = item.Clone()
	}
	return out, nil
}
