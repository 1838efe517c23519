// Package middleware provides HTTP middleware for CVE Sentinel.
//
// Import Path: cvesentinel.io/sentinel/internal/api/middleware
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// ErrorHandler is a Gin middleware that provides centralized error handling.
// It captures errors added via c.Error() and writes {"error": msg, "code": CODE}.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fields := []zap.Field{
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.String("request_id", GetRequestID(c.Request.Context())),
				zap.Error(appErr.Err),
			}
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				logger.Error("Request error", fields...)
			} else {
				logger.Warn("Request error", fields...)
			}
			body := gin.H{
				"error": appErr.Message,
				"code":  appErr.Code,
			}
			if len(appErr.FieldErrors) > 0 {
				body["field_errors"] = appErr.FieldErrors
			}
			if len(appErr.Params) > 0 {
				body["params"] = appErr.Params
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		logger.Error("Unhandled request error",
			zap.String("request_id", GetRequestID(c.Request.Context())),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "An internal error occurred",
			"code":  apperrors.CodeInternal,
		})
	}
}

// abortWithError records err for ErrorHandler and stops the chain.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
