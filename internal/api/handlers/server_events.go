package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/governance/audit"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// BroadcastRequest is the body of POST /admin/notifications/broadcast.
type BroadcastRequest struct {
	UserIDs  []string               `json:"userIds"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Priority domain.Priority        `json:"priority,omitempty"`
	Data     domain.SystemAlertData `json:"data"`
}

// EventRequest is the body of POST /admin/events. Other platform services
// (comments, bookmarks, achievements, the CVE feed) report facts here.
type EventRequest struct {
	Type          domain.EventType `json:"type"`
	AggregateType string           `json:"aggregateType,omitempty"`
	AggregateID   string           `json:"aggregateId,omitempty"`
	Payload       json.RawMessage  `json:"payload"`
}

// AdminBroadcastSystemAlert handles POST /admin/notifications/broadcast.
// The alert goes through the event dispatcher and returns once every
// recipient has been attempted.
func (s *Server) AdminBroadcastSystemAlert(c *gin.Context) {
	var body BroadcastRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	recipients := recipientIDs(body.UserIDs)
	switch {
	case len(recipients) == 0:
		fail(c, apperrors.Validationf("userIds is required"))
		return
	case strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.Message) == "":
		fail(c, apperrors.Validationf("title and message are required"))
		return
	case body.Priority != "" && !body.Priority.Valid():
		fail(c, apperrors.Validationf("unknown priority %q", body.Priority))
		return
	}
	if s.events == nil {
		fail(c, apperrors.Internal(apperrors.CodeInternal, "event dispatch is not configured"))
		return
	}

	payload := domain.SystemAlertRaisedPayload{
		UserIDs:  recipients,
		Title:    body.Title,
		Message:  body.Message,
		Priority: body.Priority,
		Data:     body.Data,
	}
	err := s.events.Publish(c.Request.Context(), domain.EventSystemAlertRaised, "system_alert", body.Data.Category, actorFromCtx(c), payload)
	s.recordAudit(c, audit.ActionNotificationBroadcast, "notification", "", map[string]interface{}{
		"recipients": len(recipients),
		"title":      body.Title,
		"failed":     err != nil,
	})
	if err != nil {
		fail(c, apperrors.Delivery(err, "broadcast system alert"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recipients": len(recipients)})
}

// AdminIngestEvent handles POST /admin/events. The payload is checked
// before the request returns; handlers run on the general pool.
func (s *Server) AdminIngestEvent(c *gin.Context) {
	var body EventRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, apperrors.Validationf("invalid request body: %v", err))
		return
	}
	if !body.Type.Valid() {
		fail(c, apperrors.Validationf("unknown event type %q", body.Type))
		return
	}
	payload, err := domain.DecodeEventPayload(body.Type, body.Payload)
	if err != nil {
		fail(c, apperrors.Validationf("%v", err))
		return
	}
	if s.events == nil || !s.events.Handles(body.Type) {
		fail(c, apperrors.Internal(apperrors.CodeInternal, "event dispatch is not configured"))
		return
	}

	event, err := domain.NewEvent(body.Type, body.AggregateType, body.AggregateID, actorFromCtx(c), payload)
	if err != nil {
		fail(c, apperrors.Wrap(err, apperrors.CodeInternal, "build event", http.StatusInternalServerError))
		return
	}

	dispatch := func(ctx context.Context) {
		if err := s.events.Dispatch(ctx, event); err != nil {
			logger.Error("ingested event produced delivery failures",
				zap.String("event_id", event.EventID),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err),
			)
		}
	}
	if s.pools != nil {
		// The response is sent before the handlers finish.
		if err := s.pools.General.Submit(context.WithoutCancel(c.Request.Context()), dispatch); err != nil {
			fail(c, apperrors.Delivery(err, "queue event"))
			return
		}
	} else {
		dispatch(c.Request.Context())
	}

	s.recordAudit(c, audit.ActionEventIngest, "event", event.EventID, map[string]interface{}{
		"event_type":     string(event.EventType),
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
	})
	c.JSON(http.StatusAccepted, gin.H{"eventId": event.EventID, "type": event.EventType})
}

// recipientIDs trims ids and drops blanks and repeats.
func recipientIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; id == "" || dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
