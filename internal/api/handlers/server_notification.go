package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
)

// NotificationList is one inbox page.
type NotificationList struct {
	Items  []domain.NotificationView `json:"items"`
	Total  int64                     `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// ListNotifications handles GET /notifications.
func (s *Server) ListNotifications(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	f, err := listFilterFromQuery(c)
	if err != nil {
		fail(c, err)
		return
	}

	page, err := s.notifications.List(c.Request.Context(), userID, f)
	if err != nil {
		fail(c, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []domain.NotificationView{}
	}
	c.JSON(http.StatusOK, NotificationList{
		Items:  items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func listFilterFromQuery(c *gin.Context) (notification.ListFilter, error) {
	var f notification.ListFilter
	var err error
	if f.UnreadOnly, err = boolQuery(c, "unreadOnly"); err != nil {
		return f, err
	}
	if f.Limit, err = intQuery(c, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		return f, err
	}
	if f.Offset < 0 {
		return f, apperrors.Validationf("offset must not be negative")
	}
	if t := c.Query("type"); t != "" {
		f.Type = domain.NotificationType(t)
		if !f.Type.Valid() {
			return f, apperrors.Validationf("unknown notification type %q", t)
		}
	}
	return f, nil
}

// GetUnreadCount handles GET /notifications/unread-count.
func (s *Server) GetUnreadCount(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	count, err := s.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkNotificationRead handles POST /notifications/{id}/read.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	if err := s.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	updated, err := s.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// GetPreferences handles GET /notification-preferences.
func (s *Server) GetPreferences(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	p, err := s.notifications.Preferences(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdatePreferences handles PUT /notification-preferences.
// The body replaces the stored settings; the user id comes from the session.
func (s *Server) UpdatePreferences(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var p domain.Preferences
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	saved, err := s.notifications.SavePreferences(c.Request.Context(), userID, p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}
