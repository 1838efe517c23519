package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvesentinel.io/sentinel/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestQuietHours_Active(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		q    QuietHours
		at   time.Time
		want bool
	}{
		{"disabled", QuietHours{Enabled: false, Start: "00:00", End: "23:59"}, day(12, 0), false},
		{"inside same-day window", QuietHours{Enabled: true, Start: "09:00", End: "17:00"}, day(12, 0), true},
		{"start is inclusive", QuietHours{Enabled: true, Start: "09:00", End: "17:00"}, day(9, 0), true},
		{"end is exclusive", QuietHours{Enabled: true, Start: "09:00", End: "17:00"}, day(17, 0), false},
		{"wrap before midnight", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, day(23, 30), true},
		{"wrap after midnight", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, day(7, 59), true},
		{"wrap outside", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, day(12, 0), false},
		{"start equals end is empty", QuietHours{Enabled: true, Start: "10:00", End: "10:00"}, day(10, 0), false},
		{"unparseable clock", QuietHours{Enabled: true, Start: "late", End: "08:00"}, day(23, 0), false},
		{"zone shifts window", QuietHours{Enabled: true, Start: "22:00", End: "23:00", Timezone: "America/New_York"}, time.Date(2026, 1, 15, 3, 30, 0, 0, time.UTC), true},
		{"unknown zone falls back to UTC", QuietHours{Enabled: true, Start: "22:00", End: "23:00", Timezone: "Mars/Olympus"}, day(22, 30), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Active(tt.at))
		})
	}
}

func TestPreferences_Defaults(t *testing.T) {
	p := DefaultPreferences("u1")

	for _, typ := range []NotificationType{TypeVulnerabilityAlert, TypeCommentReply, TypeBookmarkUpdate, TypeSystemAlert, TypeAchievementUnlocked} {
		assert.True(t, p.CategoryEnabled(typ), typ)
	}
	assert.True(t, p.ChannelEnabled(ChannelEmail))
	assert.True(t, p.ChannelEnabled(ChannelPush))
	assert.False(t, p.ChannelEnabled(ChannelWebhook))
	assert.True(t, p.ChannelEnabled(ChannelInApp))
	assert.False(t, p.QuietHours.Enabled)
	require.NoError(t, p.Validate())
}

func TestPreferences_Validate(t *testing.T) {
	p := DefaultPreferences("u1")
	p.WebhookURL = "ftp://hooks.example.com"
	require.Error(t, p.Validate())

	p.WebhookURL = "https://hooks.example.com/sentinel"
	p.QuietHours = QuietHours{Enabled: true, Start: "25:00", End: "06:00"}
	require.Error(t, p.Validate())

	p.QuietHours = QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "Europe/Berlin"}
	require.NoError(t, p.Validate())
}

func TestPriority_BypassesQuietHours(t *testing.T) {
	assert.False(t, PriorityLow.BypassesQuietHours())
	assert.False(t, PriorityMedium.BypassesQuietHours())
	assert.True(t, PriorityHigh.BypassesQuietHours())
	assert.True(t, PriorityCritical.BypassesQuietHours())
}

func TestPriorityForSeverity(t *testing.T) {
	assert.Equal(t, PriorityCritical, PriorityForSeverity("CRITICAL"))
	assert.Equal(t, PriorityHigh, PriorityForSeverity(SeverityHigh))
	assert.Equal(t, PriorityMedium, PriorityForSeverity(SeverityMedium))
	assert.Equal(t, PriorityLow, PriorityForSeverity(SeverityNone))
	assert.Equal(t, PriorityLow, PriorityForSeverity(""))
}

func TestNotification_RetryableChannels(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	n := &Notification{ID: "n1"}
	n.RecordSuccess(ChannelInApp, now)
	n.RecordFailure(ChannelEmail, now, "smtp: 451", false)
	n.RecordFailure(ChannelEmail, now, "smtp: 451", false)
	n.RecordFailure(ChannelWebhook, now, "no webhook url", true)
	n.RecordSuccess(ChannelPush, now)

	assert.Equal(t, []Channel{ChannelEmail}, n.RetryableChannels(3, now))
	assert.Empty(t, n.RetryableChannels(2, now), "attempts at cap are excluded")

	past := now.Add(-time.Minute)
	n.ExpiresAt = &past
	assert.Empty(t, n.RetryableChannels(10, now), "expired records are excluded")
}

func TestNotification_Outcome(t *testing.T) {
	at := time.Now()
	tests := []struct {
		name  string
		build func(n *Notification)
		want  Outcome
	}{
		{"in-app only", func(n *Notification) { n.RecordSuccess(ChannelInApp, at) }, OutcomeDelivered},
		{"all external delivered", func(n *Notification) {
			n.RecordSuccess(ChannelInApp, at)
			n.RecordSuccess(ChannelPush, at)
			n.RecordSuccess(ChannelEmail, at)
		}, OutcomeDelivered},
		{"partial", func(n *Notification) {
			n.RecordSuccess(ChannelInApp, at)
			n.RecordSuccess(ChannelPush, at)
			n.RecordFailure(ChannelEmail, at, "timeout", false)
		}, OutcomePartial},
		{"all external failed", func(n *Notification) {
			n.RecordSuccess(ChannelInApp, at)
			n.RecordFailure(ChannelPush, at, "down", false)
			n.RecordFailure(ChannelWebhook, at, "no url", true)
		}, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Notification{}
			tt.build(n)
			assert.Equal(t, tt.want, n.Outcome())
		})
	}
}

func TestNotification_RecordSuccessAfterFailure(t *testing.T) {
	at := time.Now()
	n := &Notification{}
	n.RecordFailure(ChannelEmail, at, "timeout", false)
	n.RecordFailure(ChannelEmail, at, "timeout", false)
	n.RecordSuccess(ChannelEmail, at)

	d := n.Delivery(ChannelEmail)
	require.NotNil(t, d)
	assert.Equal(t, DeliveryDelivered, d.Status)
	assert.Equal(t, 3, d.Attempts)
	assert.Empty(t, d.LastError)
	assert.Len(t, n.Deliveries, 1)
}

func TestNotification_BeginAttemptCountsBeforeSettling(t *testing.T) {
	at := time.Now()
	n := &Notification{}
	n.RecordFailure(ChannelWebhook, at, "502", false)

	n.BeginAttempt(ChannelWebhook, at.Add(time.Minute))
	d := n.Delivery(ChannelWebhook)
	assert.Equal(t, 2, d.Attempts)
	assert.Equal(t, DeliveryFailed, d.Status, "status is unchanged until settled")
	assert.Equal(t, []Channel{ChannelWebhook}, n.RetryableChannels(3, at))
	assert.Empty(t, n.RetryableChannels(2, at), "a counted attempt reaches the cap")

	n.MarkDelivered(ChannelWebhook)
	d = n.Delivery(ChannelWebhook)
	assert.Equal(t, DeliveryDelivered, d.Status)
	assert.Equal(t, 2, d.Attempts)
}

func TestNotification_JSONDecodesPayloadByType(t *testing.T) {
	src := &Notification{
		ID:       "n1",
		UserID:   "u1",
		Type:     TypeVulnerabilityAlert,
		Title:    "CVE-2026-0001",
		Message:  "critical bug",
		Priority: PriorityCritical,
		Data:     VulnerabilityAlertData{CVEID: "CVE-2026-0001", Severity: SeverityCritical, CVSSScore: 9.8},
	}
	b, err := json.Marshal(src.View())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "deliveries")

	var view NotificationView
	require.NoError(t, json.Unmarshal(b, &view))
	data, ok := view.Data.(VulnerabilityAlertData)
	require.True(t, ok, "data decoded as %T", view.Data)
	assert.Equal(t, "CVE-2026-0001", data.CVEID)
	assert.Equal(t, 9.8, data.CVSSScore)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(TypeSystemAlert, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = DecodePayload("weather_report", json.RawMessage(`{"x":1}`))
	require.Error(t, err)

	p, err = DecodePayload(TypeAchievementUnlocked, json.RawMessage(`{"achievementId":"a1","name":"First Triage","points":10}`))
	require.NoError(t, err)
	assert.Equal(t, AchievementData{AchievementID: "a1", Name: "First Triage", Points: 10}, p)
}

func TestCheckPayload(t *testing.T) {
	require.NoError(t, CheckPayload(TypeSystemAlert, nil))
	require.NoError(t, CheckPayload(TypeSystemAlert, SystemAlertData{}))
	require.Error(t, CheckPayload(TypeSystemAlert, CommentReplyData{}))
}

func TestAlertRule_Matches(t *testing.T) {
	minScore, maxScore := 7.0, 9.0
	vuln := Vulnerability{
		CVEID:            "CVE-2026-1234",
		Severity:         "HIGH",
		CVSSScore:        8.1,
		AffectedSoftware: []string{"OpenSSL 3.0.7", "nginx"},
		Source:           "NVD",
		Tags:             []string{"rce", "network"},
	}

	tests := []struct {
		name string
		rule AlertRule
		want bool
	}{
		{"disabled never matches", AlertRule{Enabled: false}, false},
		{"empty conditions match", AlertRule{Enabled: true}, true},
		{"severity case-insensitive", AlertRule{Enabled: true, Conditions: AlertConditions{Severities: []Severity{"high"}}}, true},
		{"severity miss", AlertRule{Enabled: true, Conditions: AlertConditions{Severities: []Severity{SeverityCritical}}}, false},
		{"software substring", AlertRule{Enabled: true, Conditions: AlertConditions{AffectedSoftware: []string{"openssl"}}}, true},
		{"software miss", AlertRule{Enabled: true, Conditions: AlertConditions{AffectedSoftware: []string{"apache"}}}, false},
		{"cvss in range", AlertRule{Enabled: true, Conditions: AlertConditions{CVSSMin: &minScore, CVSSMax: &maxScore}}, true},
		{"cvss below min", AlertRule{Enabled: true, Conditions: AlertConditions{CVSSMin: &maxScore}}, false},
		{"source and tag", AlertRule{Enabled: true, Conditions: AlertConditions{Sources: []string{"nvd"}, Tags: []string{"RCE"}}}, true},
		{"tag miss", AlertRule{Enabled: true, Conditions: AlertConditions{Tags: []string{"xss"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(vuln))
		})
	}
}

func TestAlertActions_Channels(t *testing.T) {
	assert.Equal(t, []Channel{ChannelInApp}, AlertActions{}.Channels())
	assert.Equal(t, []Channel{ChannelInApp, ChannelPush, ChannelWebhook}, AlertActions{Push: true, Webhook: true}.Channels())
}

func TestEventDispatcher_RunsAllHandlers(t *testing.T) {
	d := NewEventDispatcher()
	var calls []string

	d.Register(EventCommentReplied, func(ctx context.Context, e *DomainEvent) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Register(EventCommentReplied, func(ctx context.Context, e *DomainEvent) error {
		var p CommentRepliedPayload
		require.NoError(t, e.Decode(&p))
		calls = append(calls, "second:"+p.RecipientID)
		return nil
	})

	err := d.Publish(context.Background(), EventCommentReplied, "comment", "c1", "u2",
		CommentRepliedPayload{RecipientID: "u1", Reply: CommentReplyData{CommentID: "c1", AuthorID: "u2"}})

	require.Error(t, err)
	assert.Equal(t, []string{"first", "second:u1"}, calls)
	assert.True(t, d.Handles(EventCommentReplied))
	assert.False(t, d.Handles(EventBookmarkUpdated))
	require.NoError(t, d.Publish(context.Background(), EventBookmarkUpdated, "bookmark", "b1", "u1", BookmarkUpdatedPayload{}))
}

func TestDecodeEventPayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     EventType
		raw     string
		wantErr bool
	}{
		{name: "comment reply", typ: EventCommentReplied, raw: `{"recipient_id":"u1","reply":{"commentId":"c1","authorId":"u2"}}`},
		{name: "comment reply without recipient", typ: EventCommentReplied, raw: `{"reply":{"commentId":"c1"}}`, wantErr: true},
		{name: "bookmark", typ: EventBookmarkUpdated, raw: `{"user_id":"u1","update":{"cveId":"CVE-2026-1"}}`},
		{name: "achievement without user", typ: EventAchievementUnlocked, raw: `{"achievement":{"name":"First"}}`, wantErr: true},
		{name: "vulnerability without cve", typ: EventVulnerabilityPublished, raw: `{"vulnerability":{"title":"x"}}`, wantErr: true},
		{name: "alert", typ: EventSystemAlertRaised, raw: `{"user_ids":["u1"],"title":"t","message":"m","priority":"low"}`},
		{name: "alert with bad priority", typ: EventSystemAlertRaised, raw: `{"user_ids":["u1"],"priority":"urgent"}`, wantErr: true},
		{name: "null payload", typ: EventBookmarkUpdated, raw: `null`, wantErr: true},
		{name: "unknown type", typ: EventType("USER_DELETED"), raw: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEventPayload(tt.typ, json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEvent), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
	assert.True(t, EventSystemAlertRaised.Valid())
	assert.False(t, EventType("USER_DELETED").Valid())
}
