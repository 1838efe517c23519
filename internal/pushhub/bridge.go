package pushhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// DefaultChannel is the Redis channel shared by all instances.
const DefaultChannel = "sentinel:push"

type envelope struct {
	UserID string          `json:"user_id"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

func encodeEnvelope(userID string, ev Event, at time.Time) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{UserID: userID, Type: ev.Type, Data: data, SentAt: at})
}

func decodeEnvelope(payload string) (string, Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", Event{}, err
	}
	if env.UserID == "" || env.Type == "" {
		return "", Event{}, errors.New("envelope missing user_id or type")
	}
	return env.UserID, Event{Type: env.Type, Data: env.Data}, nil
}

// Resubscribe delays after the relay loses its subscription.
const (
	minResubscribeDelay = 100 * time.Millisecond
	maxResubscribeDelay = 30 * time.Second
)

// Bridge publishes through Redis and replays received events into a local Hub.
type Bridge struct {
	client  *redis.Client
	channel string
	hub     *Hub

	minDelay time.Duration
	maxDelay time.Duration
}

// NewBridge creates a bridge. An empty channel uses DefaultChannel.
func NewBridge(client *redis.Client, channel string, hub *Hub) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bridge{
		client:   client,
		channel:  channel,
		hub:      hub,
		minDelay: minResubscribeDelay,
		maxDelay: maxResubscribeDelay,
	}
}

// Send publishes ev for userID to every instance.
func (b *Bridge) Send(ctx context.Context, userID string, ev Event) error {
	body, err := encodeEnvelope(userID, ev, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("encode push envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Run forwards events from the channel into the hub until ctx ends. A failed
// or dropped subscription is retried with exponential backoff; the delay
// resets once a subscription succeeds.
func (b *Bridge) Run(ctx context.Context) error {
	delay := b.minDelay
	for {
		subscribed, err := b.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = b.minDelay
		}
		logger.Warn("push bridge lost subscription, retrying",
			zap.String("channel", b.channel),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = nextDelay(delay, b.maxDelay)
	}
}

// listen runs one subscription. subscribed reports whether Redis confirmed it.
func (b *Bridge) listen(ctx context.Context) (subscribed bool, err error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	logger.Info("push bridge subscribed", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			userID, ev, err := decodeEnvelope(msg.Payload)
			if err != nil {
				logger.Warn("push bridge: bad envelope",
					zap.String("channel", b.channel),
					zap.Error(err),
				)
				continue
			}
			b.hub.Publish(userID, ev)
		}
	}
}

func nextDelay(d, ceiling time.Duration) time.Duration {
	d *= 2
	if d > ceiling {
		return ceiling
	}
	return d
}
