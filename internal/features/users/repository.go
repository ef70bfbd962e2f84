// Package users: repository.go reads the users table.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/db/postgres"
)

type Repository struct {
	db postgres.Querier
}

func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// GetByID returns the user or common.ErrUserNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, COALESCE(first_name, '') AS first_name,
		       COALESCE(last_name, '') AS last_name, role
		FROM users
		WHERE id = $1
	`
	var u User
	if err := pgxscan.Get(ctx, postgres.Conn(ctx, r.db), &u, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to read user %s: %w", id, err)
	}
	return &u, nil
}
