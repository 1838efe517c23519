package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// SSE event names emitted besides pushed notifications.
const (
	streamEventReady     = "ready"
	streamEventHeartbeat = "heartbeat"
)

// StreamNotifications handles GET /notifications/stream.
// Push events for the caller are written as server-sent events until the
// client goes away.
func (s *Server) StreamNotifications(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	events, unsubscribe := s.hub.Subscribe(userID)
	defer unsubscribe()

	logger.Debug("notification stream opened", zap.String("user_id", userID))
	defer logger.Debug("notification stream closed", zap.String("user_id", userID))

	// Streams outlive the server write timeout.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("stream write deadline not cleared", zap.Error(err))
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(streamEventReady, gin.H{"userId": userID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(ev.Type, ev.Data)
			return true
		case t := <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, t.UTC().Unix())
			return true
		}
	})
}
