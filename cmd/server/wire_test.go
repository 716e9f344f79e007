package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myapi/internal/ratelimit/models"
)

func purgeNames(app *application) []string {
	names := make([]string, 0, len(app.purges))
	for _, p := range app.purges {
		names = append(names, p.name)
	}
	return names
}

func TestInMemoryStoresArePurged(t *testing.T) {
	app := &application{}
	ctx := context.Background()

	revocations := newRevocationList(nil, nil, app)
	require.NoError(t, revocations.RevokeToken(ctx, "jti-1", time.Millisecond))
	idem := newIdempotencyStore(nil, nil, app)
	_, _, err := idem.Reserve(ctx, "key", "hash", time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, []string{"token_revocations", "idempotency_keys"}, purgeNames(app))

	time.Sleep(5 * time.Millisecond)
	for _, p := range app.purges {
		n, err := p.run(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, p.name)
	}
}

func TestBucketIdle(t *testing.T) {
	t.Run("default covers fast limits", func(t *testing.T) {
		assert.Equal(t, minBucketIdle, bucketIdle(map[models.EndpointClass]models.Limit{
			models.ClassRead: {Rate: 10, Burst: 100},
		}))
	})

	t.Run("slow limits extend the idle window", func(t *testing.T) {
		slow := models.Limit{Rate: 0.01, Burst: 10}
		idle := bucketIdle(map[models.EndpointClass]models.Limit{
			models.ClassAuth: slow,
			models.ClassRead: {Rate: 10, Burst: 100},
		})
		assert.Equal(t, slow.RefillDuration(), idle)
		assert.Greater(t, idle, minBucketIdle)
	})
}
