package notification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/notification"
	"cvesentinel.io/sentinel/internal/testutil"
)

var openSSLVuln = domain.Vulnerability{
	CVEID:            "CVE-2026-0042",
	Title:            "Heap overflow in TLS handshake",
	Severity:         domain.SeverityCritical,
	CVSSScore:        9.8,
	AffectedSoftware: []string{"OpenSSL 3.2"},
	Source:           "NVD",
}

func TestTriggers_OnVulnerabilityPublished(t *testing.T) {
	f := newFixture(t, allChannels("u1"), allChannels("u2"))
	rules := testutil.StaticRules{
		{ID: "r1", UserID: "u1", Name: "openssl", Enabled: true,
			Conditions: domain.AlertConditions{AffectedSoftware: []string{"openssl"}},
			Actions:    domain.AlertActions{Push: true}},
		{ID: "r2", UserID: "u1", Name: "critical", Enabled: true,
			Conditions: domain.AlertConditions{Severities: []domain.Severity{domain.SeverityCritical}},
			Actions:    domain.AlertActions{Email: true}},
		{ID: "r3", UserID: "u2", Name: "nginx", Enabled: true,
			Conditions: domain.AlertConditions{AffectedSoftware: []string{"nginx"}}},
		{ID: "r4", UserID: "u3", Name: "disabled", Enabled: false},
	}
	tr := notification.NewTriggers(f.svc, rules, nil)

	matched, err := tr.OnVulnerabilityPublished(context.Background(), openSSLVuln)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	all := f.store.All()
	require.Len(t, all, 1, "one notification per user even when several rules match")
	n := all[0]
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, domain.TypeVulnerabilityAlert, n.Type)
	assert.Equal(t, domain.PriorityCritical, n.Priority)
	assert.Equal(t, "CVE-2026-0042: Heap overflow in TLS handshake", n.Title)

	data, ok := n.Data.(domain.VulnerabilityAlertData)
	require.True(t, ok)
	assert.Equal(t, "r1", data.RuleID)

	assert.Equal(t, 1, f.push.Calls())
	assert.Equal(t, 1, f.email.Calls())
	assert.Zero(t, f.webhook.Calls(), "no rule asked for webhook")
}

func TestTriggers_DispatcherRoutesEvents(t *testing.T) {
	f := newFixture(t)
	tr := notification.NewTriggers(f.svc, testutil.StaticRules{}, nil)
	d := domain.NewEventDispatcher()
	tr.Register(d)
	ctx := context.Background()

	require.NoError(t, d.Publish(ctx, domain.EventVulnerabilityPublished, "vulnerability", openSSLVuln.CVEID, "admin",
		domain.VulnerabilityPublishedPayload{Vulnerability: openSSLVuln, UserID: "u9"}))
	require.NoError(t, d.Publish(ctx, domain.EventCommentReplied, "comment", "c2", "u2",
		domain.CommentRepliedPayload{RecipientID: "u1", Reply: domain.CommentReplyData{CommentID: "c2", AuthorID: "u2", AuthorName: "dana", CVEID: "CVE-2026-0042"}}))
	require.NoError(t, d.Publish(ctx, domain.EventBookmarkUpdated, "bookmark", "b1", "system",
		domain.BookmarkUpdatedPayload{UserID: "u1", Update: domain.BookmarkUpdateData{BookmarkID: "b1", CVEID: "CVE-2026-0042", Change: "CVSS raised to 9.8"}}))
	require.NoError(t, d.Publish(ctx, domain.EventAchievementUnlocked, "achievement", "a1", "system",
		domain.AchievementUnlockedPayload{UserID: "u1", Achievement: domain.AchievementData{AchievementID: "a1", Name: "First Triage", Points: 10}}))
	require.NoError(t, d.Publish(ctx, domain.EventSystemAlertRaised, "system", "maint", "admin",
		domain.SystemAlertRaisedPayload{UserIDs: []string{"u1", "u2"}, Title: "Maintenance", Message: "Read-only at 02:00 UTC"}))

	byType := map[domain.NotificationType][]string{}
	for _, n := range f.store.All() {
		byType[n.Type] = append(byType[n.Type], n.UserID)
		require.NoError(t, domain.CheckPayload(n.Type, n.Data))
	}
	assert.Equal(t, []string{"u9"}, byType[domain.TypeVulnerabilityAlert])
	assert.Equal(t, []string{"u1"}, byType[domain.TypeCommentReply])
	assert.Equal(t, []string{"u1"}, byType[domain.TypeBookmarkUpdate])
	assert.Equal(t, []string{"u1"}, byType[domain.TypeAchievementUnlocked])
	assert.ElementsMatch(t, []string{"u1", "u2"}, byType[domain.TypeSystemAlert])
}

func TestTriggers_SelfReplyIsIgnored(t *testing.T) {
	f := newFixture(t)
	tr := notification.NewTriggers(f.svc, nil, nil)

	require.NoError(t, tr.OnCommentReply(context.Background(), "u1", domain.CommentReplyData{CommentID: "c1", AuthorID: "u1"}))
	assert.Empty(t, f.store.All())
}
