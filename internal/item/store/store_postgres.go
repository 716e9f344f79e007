package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"myapi/internal/item/models"
	"myapi/internal/platform/postgres"
	id "myapi/pkg/domain"
)

const itemColumns = `id, owner_id, name, description, price_amount::text, price_currency, quantity, tags, version, created_at, updated_at, deleted_at`

// PostgresStore persists items through the pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, item *models.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, owner_id, name, description, price_amount, price_currency, quantity, tags, version, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID.String(), item.OwnerID.String(), item.Name, item.Description,
		item.Price.Amount().String(), item.Price.Currency(), item.Quantity, nonNilTags(item.Tags),
		item.Version, item.CreatedAt, item.UpdatedAt, item.DeletedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, itemID id.EntityID) (*models.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, itemID.String())
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update writes item only when the stored version equals expectedVersion.
func (s *PostgresStore) Update(ctx context.Context, item *models.Item, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items
		SET name = $3, description = $4, price_amount = $5::text::numeric, price_currency = $6,
		    quantity = $7, tags = $8, version = $9, updated_at = $10, deleted_at = $11
		WHERE id = $1 AND version = $2`,
		item.ID.String(), expectedVersion, item.Name, item.Description,
		item.Price.Amount().String(), item.Price.Currency(), item.Quantity, nonNilTags(item.Tags),
		item.Version, item.UpdatedAt, item.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, item.ID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionMismatch
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Item, error) {
	var owner, after string
	if !filter.OwnerID.IsNil() {
		owner = filter.OwnerID.String()
	}
	if !filter.After.IsNil() {
		after = filter.After.String()
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = models.MaxPageSize
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE ($1 OR deleted_at IS NULL)
		  AND ($2 = '' OR owner_id = $2)
		  AND ($3 = '' OR $3 = ANY(tags))
		  AND ($4 = '' OR starts_with(lower(name), lower($4)))
		  AND ($5 = '' OR id > $5)
		ORDER BY id
		LIMIT $6`,
		filter.IncludeDeleted, owner, filter.Tag, filter.NamePrefix, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (*models.Item, error) {
	var (
		rawID, rawOwner  string
		amount, currency string
		item             models.Item
		deletedAt        *time.Time
	)
	if err := row.Scan(&rawID, &rawOwner, &item.Name, &item.Description, &amount, &currency,
		&item.Quantity, &item.Tags, &item.Version, &item.CreatedAt, &item.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if item.ID, err = id.ParseEntityID(rawID); err != nil {
		return nil, fmt.Errorf("stored item id: %w", err)
	}
	if item.OwnerID, err = id.ParseUserID(rawOwner); err != nil {
		return nil, fmt.Errorf("stored owner id: %w", err)
	}
	if item.Price, err = id.ParseMoney(amount, currency); err != nil {
		return nil, fmt.Errorf("stored price: %w", err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if deletedAt != nil {
		t := deletedAt.UTC()
		item.DeletedAt = &t
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return &item, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
