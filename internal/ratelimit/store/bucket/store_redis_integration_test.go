//go:build integration

package bucket_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"myapi/internal/ratelimit/models"
	"myapi/internal/ratelimit/store/bucket"
	"myapi/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	store *bucket.RedisBucketStore
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	rc := containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedis(rc.Client)
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) key() string {
	return "test:" + uuid.NewString()
}

func (s *RedisBucketStoreSuite) TestBurstThenDeny() {
	limit := models.Limit{Rate: 0.01, Burst: 5}
	key := s.key()
	for i := range limit.Burst {
		result, err := s.store.Allow(s.ctx, key, limit)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(limit.Burst-1-i, result.Remaining)
	}

	result, err := s.store.Allow(s.ctx, key, limit)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)
}

func (s *RedisBucketStoreSuite) TestRefill() {
	limit := models.Limit{Rate: 20, Burst: 2}
	key := s.key()
	_, err := s.store.AllowN(s.ctx, key, 2, limit)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		result, err := s.store.Allow(s.ctx, key, limit)
		return err == nil && result.Allowed
	}, time.Second, 20*time.Millisecond)
}

func (s *RedisBucketStoreSuite) TestReset() {
	limit := models.Limit{Rate: 0.01, Burst: 1}
	key := s.key()
	_, err := s.store.Allow(s.ctx, key, limit)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(s.ctx, key))

	result, err := s.store.Allow(s.ctx, key, limit)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisBucketStoreSuite) TestConcurrentNeverExceedsBurst() {
	limit := models.Limit{Rate: 0.01, Burst: 25}
	key := s.key()
	var wg sync.WaitGroup
	var allowed atomic.Int64
	for range 60 {
		wg.Go(func() {
			result, err := s.store.Allow(s.ctx, key, limit)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int64(limit.Burst), allowed.Load())
}
