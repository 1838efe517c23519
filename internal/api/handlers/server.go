// Package handlers implements the CVE Sentinel HTTP API.
//
// Handlers report failures through c.Error and rely on
// middleware.ErrorHandler to render them.
//
// Import Path: cvesentinel.io/sentinel/internal/api/handlers
package handlers

import (
	"context"
	"strconv"
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
	"cvesentinel.io/sentinel/internal/pkg/worker"
	"cvesentinel.io/sentinel/internal/pushhub"
	"cvesentinel.io/sentinel/internal/vuln"
)

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 25 * time.Second

// HealthCheck probes one backing service for readiness.
type HealthCheck func(ctx context.Context) error

// Server holds the API handlers.
type Server struct {
	notifications *notification.Service
	triggers      *notification.Triggers
	catalog       *vuln.Catalog
	guard         *auth.Guard
	audit         audit.Recorder
	hub           *pushhub.Hub
	events        *domain.EventDispatcher
	pools         *worker.Pools
	checks        map[string]HealthCheck
	heartbeat     time.Duration
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, no Wire/Dig.
type ServerDeps struct {
	Notifications *notification.Service
	Triggers      *notification.Triggers
	Catalog       *vuln.Catalog
	Guard         *auth.Guard
	Audit         audit.Recorder // Optional
	Hub           *pushhub.Hub
	Events        *domain.EventDispatcher
	Pools         *worker.Pools // Optional: ingested events dispatch inline without it
	Checks        map[string]HealthCheck
	Heartbeat     time.Duration
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		notifications: deps.Notifications,
		triggers:      deps.Triggers,
		catalog:       deps.Catalog,
		guard:         deps.Guard,
		audit:         deps.Audit,
		hub:           deps.Hub,
		events:        deps.Events,
		pools:         deps.Pools,
		checks:        deps.Checks,
		heartbeat:     deps.Heartbeat,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}
	return s
}

// RegisterRoutes mounts every endpoint on api. Health probes stay public;
// everything else runs behind authn. validate runs on admin write endpoints
// after the admin guard.
func (s *Server) RegisterRoutes(api gin.IRouter, authn gin.HandlerFunc, validate ...gin.HandlerFunc) {
	api.GET("/health/live", s.GetLiveness)
	api.GET("/health/ready", s.GetReadiness)

	session := api.Group("", authn)

	session.GET("/notifications", s.ListNotifications)
	session.GET("/notifications/unread-count", s.GetUnreadCount)
	session.GET("/notifications/stream", s.StreamNotifications)
	session.POST("/notifications/read-all", s.MarkAllNotificationsRead)
	session.POST("/notifications/:id/read", s.MarkNotificationRead)
	session.GET("/notification-preferences", s.GetPreferences)
	session.PUT("/notification-preferences", s.UpdatePreferences)

	session.GET("/vulnerabilities", s.ListVulnerabilities)
	session.GET("/vulnerabilities/top-software", s.TopAffectedSoftware)
	session.GET("/vulnerabilities/:cveId", s.GetVulnerability)

	alerts := session.Group("", middleware.RequireAdmin(s.guard, auth.PermSystemAlerts))
	alerts.Use(validate...)
	alerts.POST("/admin/notifications/send", s.AdminSendNotification)
	alerts.POST("/admin/notifications/vulnerability-alert", s.AdminSendVulnerabilityAlert)
	alerts.POST("/admin/alerts/evaluate", s.AdminEvaluateAlertRules)
	alerts.POST("/admin/notifications/broadcast", s.AdminBroadcastSystemAlert)
	alerts.POST("/admin/events", s.AdminIngestEvent)
	// The required permission depends on ?action, so the guard runs inside.
	session.GET("/admin/notifications", s.AdminNotifications)
}

// fail records err for ErrorHandler and stops the chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// callerID returns the session user id or fails the request with 401.
func callerID(c *gin.Context) (string, bool) {
	caller := middleware.CallerFrom(c)
	if !caller.Authenticated() {
		fail(c, apperrors.Unauthorizedf("authentication required"))
		return "", false
	}
	return caller.UserID, true
}

// actorFromCtx names the admin for audit records.
func actorFromCtx(c *gin.Context) string {
	if id, ok := middleware.AdminFrom(c); ok && id.UserID != "" {
		return id.UserID
	}
	if caller := middleware.CallerFrom(c); caller.Authenticated() {
		return caller.UserID
	}
	return "anonymous"
}

// recordAudit writes an audit entry. Audit failures never fail the request.
func (s *Server) recordAudit(c *gin.Context, action, resourceType, resourceID string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAction(c.Request.Context(), action, resourceType, resourceID, actorFromCtx(c), details); err != nil {
		logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validationf("%s must be an integer", name)
	}
	return v, nil
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.Validationf("%s must be a boolean", name)
	}
	return v, nil
}
