package errors

import (
	"fmt"
	"net/http"
)

// Taxonomy codes. ChannelFailure is intentionally absent: per-channel failures are
// recorded on the notification and never surface as request errors.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeStorageError     = "STORAGE_ERROR"
	CodeDeliveryError    = "DELIVERY_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// Resource-specific not-found codes.
const (
	CodeNotificationNotFound  = "NOTIFICATION_NOT_FOUND"
	CodeVulnerabilityNotFound = "VULNERABILITY_NOT_FOUND"
)

// Unauthorizedf creates a 401 for a missing or invalid session.
func Unauthorizedf(format string, args ...interface{}) *AppError {
	return Unauthorized(CodeUnauthorized, fmt.Sprintf(format, args...))
}

// Forbiddenf creates a 403 for a valid session lacking admin rights.
func Forbiddenf(format string, args ...interface{}) *AppError {
	return Forbidden(CodeForbidden, fmt.Sprintf(format, args...))
}

// Validationf creates a 400 for malformed or missing request fields.
func Validationf(format string, args ...interface{}) *AppError {
	return BadRequest(CodeValidationFailed, fmt.Sprintf(format, args...))
}

// Storage wraps a persistence failure (unreachable store or rejected write).
func Storage(err error, op string) *AppError {
	return Wrap(err, CodeStorageError, op, http.StatusInternalServerError)
}

// Delivery wraps an unexpected fan-out/retry failure not attributable to one channel.
func Delivery(err error, op string) *AppError {
	return Wrap(err, CodeDeliveryError, op, http.StatusInternalServerError)
}

// ErrNotificationNotFound creates a notification not found error.
func ErrNotificationNotFound(id string) *AppError {
	return NotFound(CodeNotificationNotFound, "notification not found").
		WithParams(map[string]interface{}{"id": id})
}

// ErrVulnerabilityNotFound creates a vulnerability not found error.
func ErrVulnerabilityNotFound(cveID string) *AppError {
	return NotFound(CodeVulnerabilityNotFound, "vulnerability not found").
		WithParams(map[string]interface{}{"cve_id": cveID})
}
