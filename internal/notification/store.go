// Package notification implements the delivery pipeline: send with
// preference-aware fan-out, the retry sweep and delivery statistics.
//
// The in-app record is written first and is the durable source of truth.
// External channels (push, email, webhook) are attempted after the write and
// their outcomes are recorded on the record; they never fail a send.
//
// Import Path: cvesentinel.io/sentinel/internal/notification
package notification

import (
	"context"
	"errors"
	"time"

	"cvesentinel.io/sentinel/internal/domain"
)

// ErrNotFound is returned by stores when no record matches.
var ErrNotFound = errors.New("notification not found")

// ListFilter narrows an inbox listing.
type ListFilter struct {
	UnreadOnly bool
	Type       domain.NotificationType
	Limit      int
	Offset     int
}

// Store persists notification records.
type Store interface {
	Insert(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	GetForUser(ctx context.Context, userID, id string) (*domain.Notification, error)
	// List returns one page, newest first, and the total matching count.
	List(ctx context.Context, userID string, f ListFilter) ([]*domain.Notification, int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	// MarkRead sets is_read and read_at once; an already-read record is left untouched.
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	// UpdateDeliveries overwrites the delivery bookkeeping of n.
	UpdateDeliveries(ctx context.Context, n *domain.Notification) error
	// EachRetryable visits unexpired records with a failed channel under maxRetries.
	// Iteration stops at the first error from fn or from the store.
	EachRetryable(ctx context.Context, maxRetries int, now time.Time, fn func(*domain.Notification) error) error
	// EachSince visits records created at or after since.
	EachSince(ctx context.Context, since time.Time, fn func(*domain.Notification) error) error
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferencesStore persists per-user settings.
type PreferencesStore interface {
	// Get returns nil, nil when the user has never saved preferences.
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
	Upsert(ctx context.Context, p *domain.Preferences) error
}

// Directory resolves contact addresses from the auth provider.
type Directory interface {
	// Email returns "" with a nil error when the user has no address on file.
	Email(ctx context.Context, userID string) (string, error)
}
