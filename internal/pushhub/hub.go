// Package pushhub fans push events out to live SSE streams.
//
// Hub is process-local. Bridge relays events through Redis pub/sub so a
// stream on any instance receives events produced on any other.
//
// Import Path: cvesentinel.io/sentinel/internal/pushhub
package pushhub

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-stream backlog before events are dropped.
const subscriberBuffer = 16

// Event is one server-sent event. Type becomes the SSE "event:" name.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Sender accepts events for a user.
type Sender interface {
	Send(ctx context.Context, userID string, ev Event) error
}

// Hub keeps live subscribers grouped by user.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan Event]struct{}
	dropped atomic.Int64
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a stream for userID. The returned func must be called
// on disconnect; it closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish hands ev to every stream of userID and returns how many took it.
// A full stream misses the event rather than blocking the producer.
func (h *Hub) Publish(userID string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for ch := range h.subs[userID] {
		select {
		case ch <- ev:
			n++
		default:
			h.dropped.Add(1)
		}
	}
	return n
}

// Send implements Sender for single-instance deployments.
func (h *Hub) Send(_ context.Context, userID string, ev Event) error {
	h.Publish(userID, ev)
	return nil
}

// Subscribers returns the number of live streams for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Dropped returns how many events were skipped for slow streams.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
