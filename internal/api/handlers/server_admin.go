package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/api/middleware"
	"cvesentinel.io/sentinel/internal/auth"
	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/governance/audit"
	"cvesentinel.io/sentinel/internal/notification"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// Values of ?action on GET /admin/notifications.
const (
	adminActionStats = "stats"
	adminActionRetry = "retry"
)

// SendNotificationRequest is the body of POST /admin/notifications/send.
type SendNotificationRequest struct {
	UserID    string                  `json:"userId"`
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Priority  domain.Priority         `json:"priority,omitempty"`
	Data      json.RawMessage         `json:"data,omitempty"`
	ExpiresAt *time.Time              `json:"expiresAt,omitempty"`
	Channels  []domain.Channel        `json:"channels,omitempty"`
}

// VulnerabilityAlertRequest is the body of POST /admin/notifications/vulnerability-alert.
type VulnerabilityAlertRequest struct {
	UserID        string               `json:"userId"`
	Vulnerability domain.Vulnerability `json:"vulnerability"`
}

// EvaluateRequest is the body of POST /admin/alerts/evaluate.
type EvaluateRequest struct {
	CVEID string `json:"cveId"`
}

// AdminSendNotification handles POST /admin/notifications/send.
func (s *Server) AdminSendNotification(c *gin.Context) {
	var body SendNotificationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	if body.Priority == "" {
		body.Priority = domain.PriorityMedium
	}
	data, err := domain.DecodePayload(body.Type, body.Data)
	if err != nil {
		fail(c, apperrors.Validationf("invalid data: %v", err))
		return
	}

	n, err := s.notifications.Send(c.Request.Context(), notification.SendRequest{
		UserID:    body.UserID,
		Type:      body.Type,
		Title:     body.Title,
		Message:   body.Message,
		Data:      data,
		Priority:  body.Priority,
		ExpiresAt: body.ExpiresAt,
		Channels:  body.Channels,
	})
	if err != nil {
		fail(c, err)
		return
	}

	s.recordAudit(c, audit.ActionNotificationSend, "notification", n.ID, map[string]interface{}{
		"user_id":  n.UserID,
		"type":     string(n.Type),
		"priority": string(n.Priority),
		"outcome":  string(n.Outcome()),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "id": n.ID})
}

// AdminSendVulnerabilityAlert handles POST /admin/notifications/vulnerability-alert.
func (s *Server) AdminSendVulnerabilityAlert(c *gin.Context) {
	var body VulnerabilityAlertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(body.Vulnerability.CVEID) == "" {
		fail(c, apperrors.Validationf("vulnerability.cveId is required"))
		return
	}

	if err := s.triggers.NotifyVulnerability(c.Request.Context(), body.UserID, body.Vulnerability); err != nil {
		fail(c, err)
		return
	}

	s.recordAudit(c, audit.ActionVulnerabilityAlert, "vulnerability", body.Vulnerability.CVEID, map[string]interface{}{
		"user_id":  body.UserID,
		"severity": string(body.Vulnerability.Severity.Normalize()),
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AdminEvaluateAlertRules handles POST /admin/alerts/evaluate.
// The CVE is loaded from the catalog and run against every enabled rule.
func (s *Server) AdminEvaluateAlertRules(c *gin.Context) {
	var body EvaluateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}

	ctx := c.Request.Context()
	v, err := s.catalog.Get(ctx, strings.TrimSpace(body.CVEID))
	if err != nil {
		fail(c, err)
		return
	}
	matched, err := s.triggers.OnVulnerabilityPublished(ctx, *v)
	if err != nil {
		fail(c, apperrors.Storage(err, "evaluate alert rules"))
		return
	}

	s.recordAudit(c, audit.ActionAlertEvaluate, "vulnerability", v.CVEID, map[string]interface{}{
		"matched": matched,
	})
	c.JSON(http.StatusOK, gin.H{"cveId": v.CVEID, "matched": matched})
}

// AdminNotifications handles GET /admin/notifications?action=stats|retry.
func (s *Server) AdminNotifications(c *gin.Context) {
	switch action := c.Query("action"); action {
	case adminActionStats:
		s.adminStats(c)
	case adminActionRetry:
		s.adminRetry(c)
	default:
		fail(c, apperrors.Validationf("unknown action %q, want stats or retry", action))
	}
}

func (s *Server) adminStats(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.guard.RequireAdmin(ctx, middleware.CallerFrom(c), auth.PermViewAnalytics); err != nil {
		fail(c, err)
		return
	}
	st, err := s.notifications.DeliveryStats(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) adminRetry(c *gin.Context) {
	ctx := c.Request.Context()
	admin, err := s.guard.RequireAdmin(ctx, middleware.CallerFrom(c), auth.PermManageNotifications)
	if err != nil {
		fail(c, err)
		return
	}
	maxRetries, err := intQuery(c, "maxRetries", notification.DefaultMaxRetries)
	if err != nil {
		fail(c, err)
		return
	}

	res, err := s.notifications.RetryFailedNotifications(ctx, maxRetries)
	if err != nil {
		logger.Error("manual retry sweep aborted",
			zap.String("admin_id", admin.UserID),
			zap.Int("attempted", res.Attempted),
			zap.Error(err),
		)
		if appErr, ok := apperrors.IsAppError(err); ok {
			err = appErr.WithParams(map[string]interface{}{
				"attempted":   res.Attempted,
				"delivered":   res.Delivered,
				"stillFailed": res.StillFailed,
			})
		}
		fail(c, err)
		return
	}

	s.recordAudit(c, audit.ActionNotificationRetry, "notification", "", map[string]interface{}{
		"admin_id":     admin.UserID,
		"max_retries":  maxRetries,
		"attempted":    res.Attempted,
		"delivered":    res.Delivered,
		"still_failed": res.StillFailed,
	})
	c.JSON(http.StatusOK, res)
}
