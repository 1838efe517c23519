// Package auth resolves callers and gates admin-only operations.
//
// Import Path: cvesentinel.io/sentinel/internal/auth
package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// Permission is one admin capability.
type Permission string

const (
	PermManageUsers         Permission = "manage_users"
	PermModerateContent     Permission = "moderate_content"
	PermSystemAlerts        Permission = "system_alerts"
	PermViewAnalytics       Permission = "view_analytics"
	PermManageNotifications Permission = "manage_notifications"
)

// AllPermissions lists every known permission.
var AllPermissions = []Permission{
	PermManageUsers,
	PermModerateContent,
	PermSystemAlerts,
	PermViewAnalytics,
	PermManageNotifications,
}

// Role names. SuperAdmin implies every permission.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
)

// Caller is the authenticated session subject.
type Caller struct {
	UserID string
	Email  string
}

// Authenticated reports whether the caller carries a user id.
func (c Caller) Authenticated() bool { return c.UserID != "" }

// AdminRecord is a row of admin_roles.
type AdminRecord struct {
	UserID      string
	Role        string
	Permissions []Permission
	IsActive    bool
	ExpiresAt   *time.Time
	GrantedBy   string
}

// AdminIdentity is returned to callers that passed the guard.
type AdminIdentity struct {
	UserID      string
	Email       string
	Role        string
	Permissions []Permission
}

// Has reports whether the identity holds p.
func (a *AdminIdentity) Has(p Permission) bool {
	return a.Role == RoleSuperAdmin || slices.Contains(a.Permissions, p)
}

// ErrNoAdminRecord is returned by directories when the user is not an admin.
var ErrNoAdminRecord = errors.New("no admin record")

// AdminDirectory loads admin role records.
type AdminDirectory interface {
	AdminByUserID(ctx context.Context, userID string) (*AdminRecord, error)
}

// Guard checks admin permissions before privileged operations.
type Guard struct {
	dir AdminDirectory
	now func() time.Time
}

// NewGuard creates a Guard. A nil clock uses time.Now.
func NewGuard(dir AdminDirectory, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{dir: dir, now: now}
}

// RequireAdmin resolves the admin identity for caller and checks that it
// holds every required permission. Active and expiry checks run first.
func (g *Guard) RequireAdmin(ctx context.Context, caller Caller, required ...Permission) (*AdminIdentity, error) {
	if !caller.Authenticated() {
		return nil, apperrors.Unauthorizedf("authentication required")
	}

	rec, err := g.dir.AdminByUserID(ctx, caller.UserID)
	if errors.Is(err, ErrNoAdminRecord) || (err == nil && rec == nil) {
		return nil, apperrors.Forbiddenf("admin access required")
	}
	if err != nil {
		return nil, apperrors.Storage(err, "load admin role")
	}

	if !rec.IsActive {
		return nil, apperrors.Forbiddenf("admin role is inactive")
	}
	if rec.ExpiresAt != nil && !g.now().Before(*rec.ExpiresAt) {
		return nil, apperrors.Forbiddenf("admin role expired")
	}

	id := &AdminIdentity{
		UserID:      rec.UserID,
		Email:       caller.Email,
		Role:        rec.Role,
		Permissions: rec.Permissions,
	}
	for _, p := range required {
		if !id.Has(p) {
			logger.Warn("admin permission denied",
				zap.String("user_id", caller.UserID),
				zap.String("role", rec.Role),
				zap.String("permission", string(p)),
			)
			return nil, apperrors.Forbiddenf("missing permission %s", p)
		}
	}
	return id, nil
}
