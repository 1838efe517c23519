package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the typed data attached to a notification.
// Each variant belongs to exactly one NotificationType; on the wire the
// notification's type field is the tag and data carries the variant.
type Payload interface {
	PayloadType() NotificationType
}

// VulnerabilityAlertData accompanies vulnerability_alert.
type VulnerabilityAlertData struct {
	CVEID            string   `json:"cveId" bson:"cve_id"`
	Severity         Severity `json:"severity" bson:"severity"`
	CVSSScore        float64  `json:"cvssScore,omitempty" bson:"cvss_score,omitempty"`
	AffectedSoftware []string `json:"affectedSoftware,omitempty" bson:"affected_software,omitempty"`
	RuleID           string   `json:"ruleId,omitempty" bson:"rule_id,omitempty"`
	RuleName         string   `json:"ruleName,omitempty" bson:"rule_name,omitempty"`
}

// CommentReplyData accompanies comment_reply.
type CommentReplyData struct {
	CommentID  string `json:"commentId" bson:"comment_id"`
	ParentID   string `json:"parentId,omitempty" bson:"parent_id,omitempty"`
	CVEID      string `json:"cveId,omitempty" bson:"cve_id,omitempty"`
	AuthorID   string `json:"authorId" bson:"author_id"`
	AuthorName string `json:"authorName,omitempty" bson:"author_name,omitempty"`
	Excerpt    string `json:"excerpt,omitempty" bson:"excerpt,omitempty"`
}

// BookmarkUpdateData accompanies bookmark_update.
type BookmarkUpdateData struct {
	BookmarkID string `json:"bookmarkId" bson:"bookmark_id"`
	CVEID      string `json:"cveId" bson:"cve_id"`
	Change     string `json:"change" bson:"change"`
}

// SystemAlertData accompanies system_alert.
type SystemAlertData struct {
	Category string            `json:"category,omitempty" bson:"category,omitempty"`
	Link     string            `json:"link,omitempty" bson:"link,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" bson:"extra,omitempty"`
}

// AchievementData accompanies achievement_unlocked.
type AchievementData struct {
	AchievementID string    `json:"achievementId" bson:"achievement_id"`
	Name          string    `json:"name" bson:"name"`
	Points        int       `json:"points,omitempty" bson:"points,omitempty"`
	UnlockedAt    time.Time `json:"unlockedAt" bson:"unlocked_at"`
}

func (VulnerabilityAlertData) PayloadType() NotificationType { return TypeVulnerabilityAlert }
func (CommentReplyData) PayloadType() NotificationType       { return TypeCommentReply }
func (BookmarkUpdateData) PayloadType() NotificationType     { return TypeBookmarkUpdate }
func (SystemAlertData) PayloadType() NotificationType        { return TypeSystemAlert }
func (AchievementData) PayloadType() NotificationType        { return TypeAchievementUnlocked }

// NewPayload returns a pointer to the zero variant for t, for decoding.
func NewPayload(t NotificationType) (Payload, error) {
	switch t {
	case TypeVulnerabilityAlert:
		return &VulnerabilityAlertData{}, nil
	case TypeCommentReply:
		return &CommentReplyData{}, nil
	case TypeBookmarkUpdate:
		return &BookmarkUpdateData{}, nil
	case TypeSystemAlert:
		return &SystemAlertData{}, nil
	case TypeAchievementUnlocked:
		return &AchievementData{}, nil
	}
	return nil, fmt.Errorf("unknown notification type %q", t)
}

// Deref turns a decoded pointer variant back into its value form.
func Deref(p Payload) Payload {
	switch v := p.(type) {
	case *VulnerabilityAlertData:
		return *v
	case *CommentReplyData:
		return *v
	case *BookmarkUpdateData:
		return *v
	case *SystemAlertData:
		return *v
	case *AchievementData:
		return *v
	}
	return p
}

// DecodePayload decodes raw JSON data for type t. Empty or null data yields nil.
func DecodePayload(t NotificationType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", t, err)
	}
	return Deref(p), nil
}

// UnmarshalJSON decodes data according to the type tag.
func (n *Notification) UnmarshalJSON(b []byte) error {
	type plain Notification
	var aux struct {
		*plain
		Data json.RawMessage `json:"data"`
	}
	aux.plain = (*plain)(n)
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(n.Type, aux.Data)
	if err != nil {
		return err
	}
	n.Data = p
	return nil
}

// UnmarshalJSON decodes data according to the type tag.
func (v *NotificationView) UnmarshalJSON(b []byte) error {
	type plain NotificationView
	var aux struct {
		*plain
		Data json.RawMessage `json:"data"`
	}
	aux.plain = (*plain)(v)
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(v.Type, aux.Data)
	if err != nil {
		return err
	}
	v.Data = p
	return nil
}
