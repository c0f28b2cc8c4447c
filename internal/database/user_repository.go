package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UserRepository resolves account identifiers for payment flows
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

// FindIDByEmail returns the id of the active user with the given email, or
// an empty string when none matches
func (r *UserRepository) FindIDByEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}

	var id string
	query := `
		SELECT id::text FROM users
		WHERE LOWER(email) = LOWER($1) AND status = 'active'
		ORDER BY created_at ASC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &id, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to find user by email: %w", err)
	}
	return id, nil
}
