package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

type contextKey string

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	ctxKeyRequestID contextKey = "request_id"

	// maxRequestIDLen bounds caller-supplied ids before they reach logs.
	maxRequestIDLen = 128
)

// RequestID tags every request with an id, taken from the caller when it
// is sane, and writes one access log line once the handler chain returns.
// Health probes log at debug.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if rid == "" || len(rid) > maxRequestIDLen {
			id, _ := uuid.NewV7()
			rid = id.String()
		}
		c.Set(string(ctxKeyRequestID), rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), ctxKeyRequestID, rid),
		)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", rid),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if strings.HasSuffix(c.FullPath(), "/health/live") || strings.HasSuffix(c.FullPath(), "/health/ready") {
			logger.Debug("request served", fields...)
			return
		}
		logger.Info("request served", fields...)
	}
}

// GetRequestID returns the id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}
