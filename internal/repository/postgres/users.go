package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cvesentinel.io/sentinel/internal/notification"
)

// UserDirectory resolves contact addresses from the auth provider's users table.
type UserDirectory struct {
	pool *pgxpool.Pool
}

var _ notification.Directory = (*UserDirectory)(nil)

func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

// Email returns "" for unknown users.
func (d *UserDirectory) Email(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup email for %s: %w", userID, err)
	}
	return email, nil
}
