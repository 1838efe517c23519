package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cvesentinel.io/sentinel/internal/auth"
)

// AdminRoleStore reads admin_roles.
type AdminRoleStore struct {
	pool *pgxpool.Pool
}

var _ auth.AdminDirectory = (*AdminRoleStore)(nil)

func NewAdminRoleStore(pool *pgxpool.Pool) *AdminRoleStore {
	return &AdminRoleStore{pool: pool}
}

func (s *AdminRoleStore) AdminByUserID(ctx context.Context, userID string) (*auth.AdminRecord, error) {
	const q = `SELECT user_id, role, permissions, is_active, expires_at, granted_by
		FROM admin_roles WHERE user_id = $1`

	var (
		rec   auth.AdminRecord
		perms []string
	)
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&rec.UserID, &rec.Role, &perms, &rec.IsActive, &rec.ExpiresAt, &rec.GrantedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNoAdminRecord
	}
	if err != nil {
		return nil, fmt.Errorf("query admin role for %s: %w", userID, err)
	}
	for _, p := range perms {
		rec.Permissions = append(rec.Permissions, auth.Permission(p))
	}
	return &rec, nil
}

// Grant upserts an admin role.
func (s *AdminRoleStore) Grant(ctx context.Context, rec auth.AdminRecord) error {
	perms := make([]string, len(rec.Permissions))
	for i, p := range rec.Permissions {
		perms[i] = string(p)
	}
	var expires *time.Time
	if rec.ExpiresAt != nil {
		t := rec.ExpiresAt.UTC()
		expires = &t
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_roles (user_id, role, permissions, is_active, expires_at, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			is_active = EXCLUDED.is_active,
			expires_at = EXCLUDED.expires_at,
			granted_by = EXCLUDED.granted_by`,
		rec.UserID, rec.Role, perms, rec.IsActive, expires, rec.GrantedBy,
	)
	if err != nil {
		return fmt.Errorf("grant admin role to %s: %w", rec.UserID, err)
	}
	return nil
}
