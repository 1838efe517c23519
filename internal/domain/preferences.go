package domain

import (
	"fmt"
	"net/url"
	"time"
	_ "time/tzdata" // quiet-hours zones resolve on hosts without zoneinfo
)

// Preferences are a user's notification settings.
type Preferences struct {
	UserID string `json:"userId" bson:"user_id"`

	VulnerabilityAlerts bool `json:"vulnerabilityAlerts" bson:"vulnerability_alerts"`
	CommentReplies      bool `json:"commentReplies" bson:"comment_replies"`
	BookmarkUpdates     bool `json:"bookmarkUpdates" bson:"bookmark_updates"`
	SystemAlerts        bool `json:"systemAlerts" bson:"system_alerts"`
	Achievements        bool `json:"achievements" bson:"achievements"`

	EmailNotifications   bool   `json:"emailNotifications" bson:"email_notifications"`
	PushNotifications    bool   `json:"pushNotifications" bson:"push_notifications"`
	WebhookNotifications bool   `json:"webhookNotifications" bson:"webhook_notifications"`
	WebhookURL           string `json:"webhookUrl,omitempty" bson:"webhook_url,omitempty"`

	QuietHours QuietHours `json:"quietHours" bson:"quiet_hours"`
	UpdatedAt  time.Time  `json:"updatedAt" bson:"updated_at"`
}

// QuietHours is a daily [Start, End) window in Timezone. Start > End wraps midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled" bson:"enabled"`
	Start    string `json:"start" bson:"start"` // HH:MM
	End      string `json:"end" bson:"end"`     // HH:MM
	Timezone string `json:"timezone" bson:"timezone"`
}

// DefaultPreferences applies when a user has never saved settings.
func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:              userID,
		VulnerabilityAlerts: true,
		CommentReplies:      true,
		BookmarkUpdates:     true,
		SystemAlerts:        true,
		Achievements:        true,
		EmailNotifications:  true,
		PushNotifications:   true,
		QuietHours: QuietHours{
			Start:    "22:00",
			End:      "08:00",
			Timezone: "UTC",
		},
	}
}

// CategoryEnabled reports whether external delivery is wanted for t.
func (p Preferences) CategoryEnabled(t NotificationType) bool {
	switch t {
	case TypeVulnerabilityAlert:
		return p.VulnerabilityAlerts
	case TypeCommentReply:
		return p.CommentReplies
	case TypeBookmarkUpdate:
		return p.BookmarkUpdates
	case TypeSystemAlert:
		return p.SystemAlerts
	case TypeAchievementUnlocked:
		return p.Achievements
	}
	return false
}

// ChannelEnabled reports the user's toggle for an external channel.
func (p Preferences) ChannelEnabled(c Channel) bool {
	switch c {
	case ChannelInApp:
		return true
	case ChannelPush:
		return p.PushNotifications
	case ChannelEmail:
		return p.EmailNotifications
	case ChannelWebhook:
		return p.WebhookNotifications
	}
	return false
}

// Validate rejects settings that cannot be honored.
func (p Preferences) Validate() error {
	if p.WebhookURL != "" {
		u, err := url.Parse(p.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhookUrl must be an absolute http(s) URL")
		}
	}
	return p.QuietHours.Validate()
}

// Validate checks the clock strings and zone.
func (q QuietHours) Validate() error {
	if !q.Enabled {
		return nil
	}
	if _, err := clockMinutes(q.Start); err != nil {
		return fmt.Errorf("quietHours.start: %w", err)
	}
	if _, err := clockMinutes(q.End); err != nil {
		return fmt.Errorf("quietHours.end: %w", err)
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("quietHours.timezone: %w", err)
		}
	}
	return nil
}

// Active reports whether at falls inside the window.
// An unknown zone falls back to UTC; start == end is an empty window.
func (q QuietHours) Active(at time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := clockMinutes(q.Start)
	if err != nil {
		return false
	}
	end, err := clockMinutes(q.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	loc := time.UTC
	if q.Timezone != "" {
		if l, err := time.LoadLocation(q.Timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)
	now := local.Hour()*60 + local.Minute()

	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
