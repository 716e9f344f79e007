package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "myapi/pkg/domain"
	audit "myapi/pkg/platform/audit"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	user := id.NewUserID()

	for i := range 5 {
		require.NoError(t, s.Append(ctx, audit.Event{
			UserID:    user,
			Action:    string(audit.EventItemUpdated),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.Append(ctx, audit.Event{UserID: id.NewUserID(), Action: "other", Timestamp: base}))

	t.Run("list by user", func(t *testing.T) {
		events, err := s.ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Len(t, events, 5)
	})

	t.Run("list recent is newest first and limited", func(t *testing.T) {
		events, err := s.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, base.Add(4*time.Hour), events[0].Timestamp)
		assert.Equal(t, base.Add(3*time.Hour), events[1].Timestamp)
	})

	t.Run("list range is half open", func(t *testing.T) {
		events, err := s.ListRange(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, base.Add(time.Hour), events[0].Timestamp)
	})

	t.Run("clear", func(t *testing.T) {
		s.Clear()
		events, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
