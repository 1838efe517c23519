// Package audit implements the audit logging service.
//
// Audit logs are append-only records of privileged actions. Hard-delete is NOT allowed.
//
// Import Path: cvesentinel.io/sentinel/internal/governance/audit
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// Admin actions recorded by the API.
const (
	ActionNotificationSend      = "notification.send"
	ActionVulnerabilityAlert    = "notification.vulnerability_alert"
	ActionNotificationRetry     = "notification.retry"
	ActionNotificationBroadcast = "notification.broadcast"
	ActionAlertEvaluate         = "alert_rule.evaluate"
	ActionEventIngest           = "event.ingest"
)

// Recorder is the write side used by handlers.
type Recorder interface {
	LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error
}

// Logger writes audit records to audit_logs.
type Logger struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*Logger)(nil)

// NewLogger creates a new audit Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// LogAction records an auditable action.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error {
	var raw []byte
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		raw = b
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, action, resource_type, resource_id, actor, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		generateAuditID(), action, resourceType, resourceID, actor, raw,
	)
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Entry is one stored audit record.
type Entry struct {
	ID           string
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	Details      map[string]interface{}
}

// ListByActor returns the newest entries written by actor.
func (l *Logger) ListByActor(ctx context.Context, actor string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, action, resource_type, resource_id, actor, details
		 FROM audit_logs WHERE actor = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		actor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Actor, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
