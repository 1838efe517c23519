package notification

import (
	"context"
	"fmt"
	"time"

	"cvesentinel.io/sentinel/internal/domain"
)

// Recipient carries the addresses a channel may need.
type Recipient struct {
	UserID     string
	Email      string
	WebhookURL string
}

// Message is what an adapter delivers.
type Message struct {
	NotificationID string                  `json:"id"`
	UserID         string                  `json:"userId"`
	Type           domain.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	Data           domain.Payload          `json:"data,omitempty"`
	Priority       domain.Priority         `json:"priority"`
	CreatedAt      time.Time               `json:"createdAt"`
}

func messageFor(n *domain.Notification) Message {
	return Message{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		Data:           n.Data,
		Priority:       n.Priority,
		CreatedAt:      n.CreatedAt,
	}
}

// Channel is one external delivery adapter.
type Channel interface {
	Name() domain.Channel
	Deliver(ctx context.Context, to Recipient, msg Message) error
}

// ConfigError is a failure caused by missing configuration rather than a
// transient fault. It is recorded as misconfigured and not retried.
type ConfigError struct {
	Channel domain.Channel
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s misconfigured: %s", e.Channel, e.Reason)
}

// ChannelError wraps a transient adapter failure.
type ChannelError struct {
	Channel domain.Channel
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
