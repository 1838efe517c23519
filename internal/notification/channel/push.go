// Package channel holds the external delivery adapters used by the
// notification service: push, email and webhook.
//
// Import Path: cvesentinel.io/sentinel/internal/notification/channel
package channel

import (
	"context"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
	"cvesentinel.io/sentinel/internal/pushhub"
)

// EventNotification is the SSE event name for a new notification.
const EventNotification = "notification"

// Push publishes notifications to live streams, either through the Redis
// bridge or straight into the local hub.
type Push struct {
	sender pushhub.Sender
}

// NewPush creates the push adapter.
func NewPush(sender pushhub.Sender) *Push {
	return &Push{sender: sender}
}

func (p *Push) Name() domain.Channel { return domain.ChannelPush }

func (p *Push) Deliver(ctx context.Context, to notification.Recipient, msg notification.Message) error {
	if p.sender == nil {
		return &notification.ConfigError{Channel: domain.ChannelPush, Reason: "no push hub configured"}
	}
	return p.sender.Send(ctx, to.UserID, pushhub.Event{Type: EventNotification, Data: msg})
}
