//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"myapi/pkg/testutil/containers"
)

func TestPostgresStoreSuite(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	suite.Run(t, &StoreSuite{newStore: func() itemStore {
		if err := pg.TruncateTables(context.Background(), "items"); err != nil {
			t.Fatalf("truncate items: %v", err)
		}
		return NewPostgresStore(pg.Pool)
	}})
}
