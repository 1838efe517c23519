package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

// EventHandler processes a domain event.
type EventHandler func(ctx context.Context, event *DomainEvent) error

// EventDispatcher routes domain events to registered handlers.
// Handlers for one type run in registration order.
type EventDispatcher struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Register registers a handler for a specific event type.
func (d *EventDispatcher) Register(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Handles reports whether any handler is registered for eventType.
func (d *EventDispatcher) Handles(eventType EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType]) > 0
}

// Publish builds an event from payload and dispatches it.
func (d *EventDispatcher) Publish(ctx context.Context, t EventType, aggregateType, aggregateID, actor string, payload interface{}) error {
	event, err := NewEvent(t, aggregateType, aggregateID, actor, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", t, err)
	}
	return d.Dispatch(ctx, event)
}

// Dispatch runs every handler for the event type, even after a failure.
// Handler errors are logged and joined into the returned error.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *DomainEvent) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Warn("No handlers registered for event type",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			logger.Error("Event handler failed",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("handler for %s: %w", event.EventType, err))
		}
	}
	return errors.Join(errs...)
}
