// Package domain holds the CVE Sentinel data model.
//
// Import Path: cvesentinel.io/sentinel/internal/domain
package domain

import (
	"fmt"
	"time"
)

// NotificationType is the closed set of notification categories.
type NotificationType string

const (
	TypeVulnerabilityAlert  NotificationType = "vulnerability_alert"
	TypeCommentReply        NotificationType = "comment_reply"
	TypeBookmarkUpdate      NotificationType = "bookmark_update"
	TypeSystemAlert         NotificationType = "system_alert"
	TypeAchievementUnlocked NotificationType = "achievement_unlocked"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeVulnerabilityAlert, TypeCommentReply, TypeBookmarkUpdate, TypeSystemAlert, TypeAchievementUnlocked:
		return true
	}
	return false
}

// Priority drives quiet-hours suppression.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// BypassesQuietHours is true for high and critical.
func (p Priority) BypassesQuietHours() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// PriorityForSeverity maps a CVE severity onto a notification priority.
func PriorityForSeverity(s Severity) Priority {
	switch s.Normalize() {
	case SeverityCritical:
		return PriorityCritical
	case SeverityHigh:
		return PriorityHigh
	case SeverityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Channel is one delivery mechanism.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelPush    Channel = "push"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// ExternalChannels are the channels backed by an adapter, in fan-out order.
var ExternalChannels = []Channel{ChannelPush, ChannelEmail, ChannelWebhook}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// DeliveryStatus is the per-channel state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the bookkeeping for one channel of one notification.
type Delivery struct {
	Channel       Channel        `json:"channel"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	// Misconfigured marks a failure caused by a missing address or URL.
	// Such failures are not retried by the sweep.
	Misconfigured bool `json:"misconfigured,omitempty"`
}

// Notification is the stored record.
type Notification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Data       Payload          `json:"data,omitempty"`
	Priority   Priority         `json:"priority"`
	IsRead     bool             `json:"isRead"`
	CreatedAt  time.Time        `json:"createdAt"`
	ReadAt     *time.Time       `json:"readAt,omitempty"`
	ExpiresAt  *time.Time       `json:"expiresAt,omitempty"`
	Deliveries []Delivery       `json:"deliveries,omitempty"`
	Suppressed []Channel        `json:"suppressed,omitempty"`
}

// Expired reports whether the record is past its expiry at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// Delivery returns the bookkeeping entry for ch, or nil.
func (n *Notification) Delivery(ch Channel) *Delivery {
	for i := range n.Deliveries {
		if n.Deliveries[i].Channel == ch {
			return &n.Deliveries[i]
		}
	}
	return nil
}

func (n *Notification) delivery(ch Channel) *Delivery {
	if d := n.Delivery(ch); d != nil {
		return d
	}
	n.Deliveries = append(n.Deliveries, Delivery{Channel: ch, Status: DeliveryPending})
	return &n.Deliveries[len(n.Deliveries)-1]
}

// RecordSuccess marks ch delivered and counts the attempt.
func (n *Notification) RecordSuccess(ch Channel, at time.Time) {
	n.BeginAttempt(ch, at)
	n.MarkDelivered(ch)
}

// RecordFailure marks ch failed and counts the attempt.
func (n *Notification) RecordFailure(ch Channel, at time.Time, reason string, misconfigured bool) {
	n.BeginAttempt(ch, at)
	n.MarkFailed(ch, reason, misconfigured)
}

// BeginAttempt counts an attempt on ch without settling its status.
// The retry sweep persists this before calling the adapter.
func (n *Notification) BeginAttempt(ch Channel, at time.Time) {
	d := n.delivery(ch)
	d.Attempts++
	d.LastAttemptAt = &at
}

// MarkDelivered settles ch as delivered. The attempt is not counted again.
func (n *Notification) MarkDelivered(ch Channel) {
	d := n.delivery(ch)
	d.Status = DeliveryDelivered
	d.LastError = ""
	d.Misconfigured = false
}

// MarkFailed settles ch as failed. The attempt is not counted again.
func (n *Notification) MarkFailed(ch Channel, reason string, misconfigured bool) {
	d := n.delivery(ch)
	d.Status = DeliveryFailed
	d.LastError = reason
	d.Misconfigured = misconfigured
}

// RetryableChannels lists failed, correctly configured channels under the cap.
// Expired records have none.
func (n *Notification) RetryableChannels(maxRetries int, now time.Time) []Channel {
	if n.Expired(now) {
		return nil
	}
	var out []Channel
	for _, d := range n.Deliveries {
		if d.Channel == ChannelInApp {
			continue
		}
		if d.Status == DeliveryFailed && !d.Misconfigured && d.Attempts < maxRetries {
			out = append(out, d.Channel)
		}
	}
	return out
}

// Outcome classifies a record over its external channels.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomePartial   Outcome = "partially_delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// Outcome reports the aggregate state of the external channels attempted.
// A record with no external attempts is delivered: its in-app record exists.
func (n *Notification) Outcome() Outcome {
	var delivered, failed, pending int
	for _, d := range n.Deliveries {
		if d.Channel == ChannelInApp {
			continue
		}
		switch d.Status {
		case DeliveryDelivered:
			delivered++
		case DeliveryFailed:
			failed++
		default:
			pending++
		}
	}
	switch {
	case pending > 0 && failed == 0:
		return OutcomePending
	case failed == 0:
		return OutcomeDelivered
	case delivered > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

// HasMisconfiguredChannel reports whether any channel failed for configuration reasons.
func (n *Notification) HasMisconfiguredChannel() bool {
	for _, d := range n.Deliveries {
		if d.Status == DeliveryFailed && d.Misconfigured {
			return true
		}
	}
	return false
}

// NotificationView is the public projection returned over HTTP.
type NotificationView struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      Payload          `json:"data,omitempty"`
	Priority  Priority         `json:"priority"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

// View drops delivery bookkeeping.
func (n *Notification) View() NotificationView {
	return NotificationView{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Priority:  n.Priority,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
		ExpiresAt: n.ExpiresAt,
	}
}

// Views projects a slice.
func Views(ns []*Notification) []NotificationView {
	out := make([]NotificationView, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.View())
	}
	return out
}

// CheckPayload verifies that a payload variant matches the notification type.
func CheckPayload(t NotificationType, p Payload) error {
	if p == nil {
		return nil
	}
	if p.PayloadType() != t {
		return fmt.Errorf("data is %s, want %s", p.PayloadType(), t)
	}
	return nil
}
