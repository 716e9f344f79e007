package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"myapi/internal/item/models"
	id "myapi/pkg/domain"
)

type itemStore interface {
	Create(ctx context.Context, item *models.Item) error
	Get(ctx context.Context, itemID id.EntityID) (*models.Item, error)
	Update(ctx context.Context, item *models.Item, expectedVersion int64) error
	List(ctx context.Context, filter models.ListFilter) ([]*models.Item, error)
}

// StoreSuite runs the same contract against every item store.
type StoreSuite struct {
	suite.Suite
	newStore func() itemStore
	store    itemStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() itemStore { return NewInMemoryStore() }})
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
}

func newItem(owner id.UserID, name string, tags ...string) *models.Item {
	now := time.Now().UTC().Truncate(time.Microsecond)
	price, _ := id.ParseMoney("12.50", "EUR")
	return &models.Item{
		ID:        id.NewEntityID(),
		OwnerID:   owner,
		Name:      name,
		Price:     price,
		Quantity:  3,
		Tags:      append([]string{}, tags...),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *StoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	item := newItem(id.NewUserID(), "Lamp", "home")
	desc := "brass desk lamp"
	item.Description = &desc
	s.Require().NoError(s.store.Create(ctx, item))

	found, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(item.Name, found.Name)
	s.Equal(item.OwnerID, found.OwnerID)
	s.True(item.Price.Equal(found.Price))
	s.Equal("12.50", found.Price.Amount().StringFixed(2))
	s.Require().NotNil(found.Description)
	s.Equal(desc, *found.Description)
	s.Equal([]string{"home"}, found.Tags)
	s.WithinDuration(item.CreatedAt, found.CreatedAt, time.Millisecond)

	s.Run("duplicate id is rejected", func() {
		s.ErrorIs(s.store.Create(ctx, item), ErrAlreadyExists)
	})

	s.Run("missing id is not found", func() {
		_, err := s.store.Get(ctx, id.NewEntityID())
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *StoreSuite) TestOptimisticUpdate() {
	ctx := context.Background()
	item := newItem(id.NewUserID(), "Chair")
	s.Require().NoError(s.store.Create(ctx, item))

	updated := item.Clone()
	updated.Name = "Armchair"
	updated.Version = 2
	s.Require().NoError(s.store.Update(ctx, updated, 1))

	found, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal("Armchair", found.Name)
	s.Equal(int64(2), found.Version)

	s.Run("stale version is rejected", func() {
		stale := item.Clone()
		stale.Version = 2
		s.ErrorIs(s.store.Update(ctx, stale, 1), ErrVersionMismatch)
	})

	s.Run("unknown item is not found", func() {
		ghost := newItem(id.NewUserID(), "Ghost")
		s.ErrorIs(s.store.Update(ctx, ghost, 1), ErrNotFound)
	})
}

func (s *StoreSuite) TestList() {
	ctx := context.Background()
	alice, bob := id.NewUserID(), id.NewUserID()

	var created []*models.Item
	for _, it := range []*models.Item{
		newItem(alice, "Apple", "fruit"),
		newItem(alice, "Apricot", "fruit"),
		newItem(bob, "Banana", "fruit"),
		newItem(bob, "Anvil", "tool"),
	} {
		s.Require().NoError(s.store.Create(ctx, it))
		created = append(created, it)
	}
	deleted := newItem(alice, "Avocado", "fruit")
	now := time.Now().UTC()
	deleted.DeletedAt = &now
	s.Require().NoError(s.store.Create(ctx, deleted))

	names := func(items []*models.Item) []string {
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.Name)
		}
		return out
	}

	s.Run("orders by id and skips deleted", func() {
		items, err := s.store.List(ctx, models.ListFilter{Limit: 10})
		s.Require().NoError(err)
		s.Equal([]string{"Apple", "Apricot", "Banana", "Anvil"}, names(items))
	})

	s.Run("includes deleted on request", func() {
		items, err := s.store.List(ctx, models.ListFilter{Limit: 10, IncludeDeleted: true})
		s.Require().NoError(err)
		s.Len(items, 5)
	})

	s.Run("filters by owner tag and prefix", func() {
		items, err := s.store.List(ctx, models.ListFilter{OwnerID: alice, Limit: 10})
		s.Require().NoError(err)
		s.Equal([]string{"Apple", "Apricot"}, names(items))

		items, err = s.store.List(ctx, models.ListFilter{Tag: "tool", Limit: 10})
		s.Require().NoError(err)
		s.Equal([]string{"Anvil"}, names(items))

		items, err = s.store.List(ctx, models.ListFilter{NamePrefix: "ap", Limit: 10})
		s.Require().NoError(err)
		s.Equal([]string{"Apple", "Apricot"}, names(items))
	})

	s.Run("pages after a cursor", func() {
		first, err := s.store.List(ctx, models.ListFilter{Limit: 2})
		s.Require().NoError(err)
		s.Equal([]string{"Apple", "Apricot"}, names(first))

		rest, err := s.store.List(ctx, models.ListFilter{Limit: 10, After: first[1].ID})
		s.Require().NoError(err)
		s.Equal([]string{"Banana", "Anvil"}, names(rest))
	})
}

func (s *StoreSuite) TestReturnedItemsAreCopies() {
	ctx := context.Background()
	item := newItem(id.NewUserID(), "Mug", "kitchen")
	s.Require().NoError(s.store.Create(ctx, item))

	found, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	found.Name = "mutated"
	found.Tags[0] = "mutated"

	again, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal("Mug", again.Name)
	s.Equal([]string{"kitchen"}, again.Tags)
}
