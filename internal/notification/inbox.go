package notification

import (
	"context"
	"errors"

	"cvesentinel.io/sentinel/internal/domain"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
)

// MaxPageSize caps one inbox page.
const MaxPageSize = 100

// Page is one page of a user's inbox.
type Page struct {
	Items  []domain.NotificationView `json:"items"`
	Total  int64                     `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, f ListFilter) (*Page, error) {
	if userID == "" {
		return nil, apperrors.Unauthorizedf("no caller")
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperrors.Validationf("unknown notification type %q", f.Type)
	}
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, total, err := s.store.List(ctx, userID, f)
	if err != nil {
		return nil, apperrors.Storage(err, "list notifications")
	}
	return &Page{Items: domain.Views(items), Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// UnreadCount returns how many of the caller's notifications are unread.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperrors.Unauthorizedf("no caller")
	}
	n, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.Storage(err, "count unread notifications")
	}
	return n, nil
}

// MarkRead marks one of the caller's notifications read. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if userID == "" {
		return apperrors.Unauthorizedf("no caller")
	}
	if id == "" {
		return apperrors.Validationf("notification id is required")
	}
	err := s.store.MarkRead(ctx, userID, id, s.now())
	switch {
	case errors.Is(err, ErrNotFound):
		return apperrors.ErrNotificationNotFound(id)
	case err != nil:
		return apperrors.Storage(err, "mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of userID read. Other users are untouched.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperrors.Unauthorizedf("no caller")
	}
	updated, err := s.store.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, apperrors.Storage(err, "mark all notifications read")
	}
	return updated, nil
}

// Preferences returns the caller's settings, or defaults.
func (s *Service) Preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	if userID == "" {
		return domain.Preferences{}, apperrors.Unauthorizedf("no caller")
	}
	p, err := s.preferences(ctx, userID)
	if err != nil {
		return domain.Preferences{}, apperrors.Storage(err, "load preferences")
	}
	return p, nil
}

// SavePreferences validates and stores the caller's settings.
func (s *Service) SavePreferences(ctx context.Context, userID string, p domain.Preferences) (domain.Preferences, error) {
	if userID == "" {
		return domain.Preferences{}, apperrors.Unauthorizedf("no caller")
	}
	if s.prefs == nil {
		return domain.Preferences{}, apperrors.Internal(apperrors.CodeInternal, "preferences store not configured")
	}
	p.UserID = userID
	if err := p.Validate(); err != nil {
		return domain.Preferences{}, apperrors.Validationf("%v", err)
	}
	p.UpdatedAt = s.now()
	if err := s.prefs.Upsert(ctx, &p); err != nil {
		return domain.Preferences{}, apperrors.Storage(err, "save preferences")
	}
	return p, nil
}
