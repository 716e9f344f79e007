package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"myapi/internal/auth/models"
	id "myapi/pkg/domain"
	txcontext "myapi/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresUserStore persists users through database/sql.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Create(ctx context.Context, user *models.User) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID.String(), user.Email, user.PasswordHash, pq.Array(user.Roles), user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	return s.findOne(ctx, `WHERE id = $1`, userID.String())
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, `WHERE email = $1`, email)
}

func (s *PostgresUserStore) UpdateRoles(ctx context.Context, userID id.UserID, roles []string) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE users SET roles = $2, updated_at = now() WHERE id = $1`,
		userID.String(), pq.Array(roles))
	if err != nil {
		return fmt.Errorf("update user roles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user roles: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	var (
		user  models.User
		rawID string
		roles pq.StringArray
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, email, password_hash, roles, created_at, updated_at FROM users `+where, arg,
	).Scan(&rawID, &user.Email, &user.PasswordHash, &roles, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.ID, err = id.ParseUserID(rawID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.Roles = []string(roles)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}
