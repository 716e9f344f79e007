package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"myapi/pkg/platform/sentinel"
)

// StoreSuite exercises the Store contract; each implementation supplies a
// fresh store per test.
type StoreSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() Store { return NewInMemoryStore() }})
}

func (s *StoreSuite) event(eventType string, n int) Event {
	e, err := NewEvent("counter", eventType, map[string]int{"n": n}, map[string]string{"request_id": "req"})
	s.Require().NoError(err)
	return e
}

func (s *StoreSuite) aggregate() string {
	return "agg-" + uuid.NewString()
}

func (s *StoreSuite) TestAppendAssignsContiguousVersions() {
	id := s.aggregate()
	saved, err := s.store.Append(s.ctx, id, 0, s.event("added", 1), s.event("added", 2))
	s.Require().NoError(err)
	s.Require().Len(saved, 2)
	s.Equal(int64(1), saved[0].Version)
	s.Equal(int64(2), saved[1].Version)
	s.Equal(id, saved[0].AggregateID)
	s.False(saved[0].OccurredAt.IsZero())

	saved, err = s.store.Append(s.ctx, id, 2, s.event("added", 3))
	s.Require().NoError(err)
	s.Equal(int64(3), saved[0].Version)

	events, err := s.store.Load(s.ctx, id, 1, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	for i, e := range events {
		s.Equal(int64(i+1), e.Version)
	}
	s.Equal("req", events[0].Metadata["request_id"])
	s.JSONEq(`{"n":1}`, string(events[0].Data))
}

func (s *StoreSuite) TestAppendRejectsStaleVersion() {
	id := s.aggregate()
	_, err := s.store.Append(s.ctx, id, 0, s.event("added", 1))
	s.Require().NoError(err)

	_, err = s.store.Append(s.ctx, id, 0, s.event("added", 2))
	s.True(errors.Is(err, ErrConcurrency))
	s.True(errors.Is(err, sentinel.ErrVersionMismatch))

	_, err = s.store.Append(s.ctx, id, 5, s.event("added", 2))
	s.True(errors.Is(err, ErrConcurrency))
}

func (s *StoreSuite) TestConcurrentAppendsHaveOneWinnerPerVersion() {
	id := s.aggregate()
	var wg sync.WaitGroup
	var wins atomic.Int64
	for i := range 10 {
		wg.Go(func() {
			if _, err := s.store.Append(s.ctx, id, 0, s.event("added", i)); err == nil {
				wins.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int64(1), wins.Load())

	events, err := s.store.Load(s.ctx, id, 1, 0)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *StoreSuite) TestHead() {
	id := s.aggregate()
	head, err := s.store.Head(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(int64(0), head)

	_, err = s.store.Append(s.ctx, id, 0, s.event("added", 1), s.event("added", 2))
	s.Require().NoError(err)
	head, err = s.store.Head(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(int64(2), head)
}

func (s *StoreSuite) TestLoadRange() {
	id := s.aggregate()
	for i := range 5 {
		_, err := s.store.Append(s.ctx, id, int64(i), s.event("added", i))
		s.Require().NoError(err)
	}

	events, err := s.store.Load(s.ctx, id, 2, 4)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(int64(2), events[0].Version)
	s.Equal(int64(4), events[2].Version)

	events, err = s.store.Load(s.ctx, id, 6, 0)
	s.Require().NoError(err)
	s.Empty(events)

	events, err = s.store.Load(s.ctx, "missing", 1, 0)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *StoreSuite) TestSnapshots() {
	id := s.aggregate()
	_, err := s.store.LatestSnapshot(s.ctx, id, 0)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	for _, v := range []int64{10, 20} {
		state, _ := json.Marshal(map[string]int64{"total": v})
		s.Require().NoError(s.store.SaveSnapshot(s.ctx, Snapshot{AggregateID: id, AggregateType: "counter", Version: v, State: state}))
	}

	snap, err := s.store.LatestSnapshot(s.ctx, id, 0)
	s.Require().NoError(err)
	s.Equal(int64(20), snap.Version)

	snap, err = s.store.LatestSnapshot(s.ctx, id, 15)
	s.Require().NoError(err)
	s.Equal(int64(10), snap.Version)
	s.JSONEq(`{"total":10}`, string(snap.State))

	_, err = s.store.LatestSnapshot(s.ctx, id, 9)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
