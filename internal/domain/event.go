package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of domain event.
type EventType string

const (
	EventVulnerabilityPublished EventType = "VULNERABILITY_PUBLISHED"
	EventCommentReplied         EventType = "COMMENT_REPLIED"
	EventBookmarkUpdated        EventType = "BOOKMARK_UPDATED"
	EventAchievementUnlocked    EventType = "ACHIEVEMENT_UNLOCKED"
	EventSystemAlertRaised      EventType = "SYSTEM_ALERT_RAISED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventVulnerabilityPublished, EventCommentReplied, EventBookmarkUpdated,
		EventAchievementUnlocked, EventSystemAlertRaised:
		return true
	}
	return false
}

// DomainEvent is an immutable fact that may produce notifications.
type DomainEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewEvent marshals payload into a new event with a UUIDv7 id.
func NewEvent(t EventType, aggregateType, aggregateID, actor string, payload interface{}) (*DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &DomainEvent{
		EventID:       id.String(),
		EventType:     t,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       data,
		CreatedBy:     actor,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into dst.
func (e *DomainEvent) Decode(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// VulnerabilityPublishedPayload is the payload for EventVulnerabilityPublished.
type VulnerabilityPublishedPayload struct {
	Vulnerability Vulnerability `json:"vulnerability"`
	// UserID targets a single recipient and skips alert-rule evaluation.
	UserID string `json:"user_id,omitempty"`
}

// CommentRepliedPayload is the payload for EventCommentReplied.
type CommentRepliedPayload struct {
	RecipientID string           `json:"recipient_id"`
	Reply       CommentReplyData `json:"reply"`
}

// BookmarkUpdatedPayload is the payload for EventBookmarkUpdated.
type BookmarkUpdatedPayload struct {
	UserID string             `json:"user_id"`
	Update BookmarkUpdateData `json:"update"`
}

// AchievementUnlockedPayload is the payload for EventAchievementUnlocked.
type AchievementUnlockedPayload struct {
	UserID      string          `json:"user_id"`
	Achievement AchievementData `json:"achievement"`
}

// SystemAlertRaisedPayload is the payload for EventSystemAlertRaised.
type SystemAlertRaisedPayload struct {
	UserIDs  []string        `json:"user_ids"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Priority Priority        `json:"priority"`
	Data     SystemAlertData `json:"data"`
}

// ErrInvalidEvent marks an event payload that cannot produce notifications.
var ErrInvalidEvent = errors.New("invalid event")

// DecodeEventPayload decodes raw into the payload type of t and checks that
// it names its recipients.
func DecodeEventPayload(t EventType, raw json.RawMessage) (interface{}, error) {
	switch t {
	case EventVulnerabilityPublished:
		p, err := decodeEvent[VulnerabilityPublishedPayload](t, raw)
		if err == nil && strings.TrimSpace(p.Vulnerability.CVEID) == "" {
			err = fmt.Errorf("%w: %s needs vulnerability.cveId", ErrInvalidEvent, t)
		}
		return p, err
	case EventCommentReplied:
		p, err := decodeEvent[CommentRepliedPayload](t, raw)
		if err == nil && strings.TrimSpace(p.RecipientID) == "" {
			err = fmt.Errorf("%w: %s needs recipient_id", ErrInvalidEvent, t)
		}
		return p, err
	case EventBookmarkUpdated:
		p, err := decodeEvent[BookmarkUpdatedPayload](t, raw)
		if err == nil && strings.TrimSpace(p.UserID) == "" {
			err = fmt.Errorf("%w: %s needs user_id", ErrInvalidEvent, t)
		}
		return p, err
	case EventAchievementUnlocked:
		p, err := decodeEvent[AchievementUnlockedPayload](t, raw)
		if err == nil && strings.TrimSpace(p.UserID) == "" {
			err = fmt.Errorf("%w: %s needs user_id", ErrInvalidEvent, t)
		}
		return p, err
	case EventSystemAlertRaised:
		p, err := decodeEvent[SystemAlertRaisedPayload](t, raw)
		if err != nil {
			return p, err
		}
		if len(p.UserIDs) == 0 {
			return p, fmt.Errorf("%w: %s needs user_ids", ErrInvalidEvent, t)
		}
		if p.Priority != "" && !p.Priority.Valid() {
			return p, fmt.Errorf("%w: unknown priority %q", ErrInvalidEvent, p.Priority)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, t)
	}
}

func decodeEvent[T any](t EventType, raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 || string(raw) == "null" {
		return p, fmt.Errorf("%w: %s has no payload", ErrInvalidEvent, t)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidEvent, t, err)
	}
	return p, nil
}
