package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/pkg/logger"
	"cvesentinel.io/sentinel/internal/pkg/worker"
)

// RuleSource lists alert rules for evaluation.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]domain.AlertRule, error)
}

// Triggers turns product events into notifications:
//  1. vulnerability_alert: owners of matching alert rules, or one named user
//  2. comment_reply: the author of the parent comment
//  3. bookmark_update: the bookmark owner
//  4. achievement_unlocked: the user who earned it
//  5. system_alert: an explicit recipient list
//
// Trigger failures are logged; only the vulnerability path reports a count.
type Triggers struct {
	sender Sender
	rules  RuleSource
	pool   *worker.Pool
}

// NewTriggers creates the trigger set. pool may be nil for sequential fan-out.
func NewTriggers(sender Sender, rules RuleSource, pool *worker.Pool) *Triggers {
	return &Triggers{sender: sender, rules: rules, pool: pool}
}

type ruleMatch struct {
	userID   string
	rule     domain.AlertRule
	channels []domain.Channel
}

// OnVulnerabilityPublished evaluates enabled rules against v and notifies each
// matching owner once. It returns the number of users notified.
func (t *Triggers) OnVulnerabilityPublished(ctx context.Context, v domain.Vulnerability) (int, error) {
	if t.rules == nil {
		return 0, nil
	}
	rules, err := t.rules.ListEnabled(ctx)
	if err != nil {
		logger.Error("failed to load alert rules",
			zap.String("cve_id", v.CVEID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("load alert rules: %w", err)
	}

	matches := matchRules(rules, v)
	if len(matches) == 0 {
		logger.Debug("no alert rules matched", zap.String("cve_id", v.CVEID))
		return 0, nil
	}

	notify := func(ctx context.Context, m ruleMatch) error {
		return t.sendVulnerability(ctx, m.userID, v, &m.rule, m.channels)
	}

	var failCount int
	if t.pool != nil {
		failCount = worker.Each(ctx, t.pool, matches, notify)
	} else {
		for _, m := range matches {
			if err := notify(ctx, m); err != nil {
				failCount++
			}
		}
	}

	if failCount > 0 {
		logger.Error("failed to send vulnerability alerts",
			zap.String("cve_id", v.CVEID),
			zap.Int("failed", failCount),
			zap.Int("matched", len(matches)),
		)
	}
	return len(matches) - failCount, nil
}

// matchRules groups matching rules by owner. Multiple rules for one owner
// merge their channel actions into a single notification.
func matchRules(rules []domain.AlertRule, v domain.Vulnerability) []ruleMatch {
	index := make(map[string]int)
	var out []ruleMatch
	for _, r := range rules {
		if r.UserID == "" || !r.Matches(v) {
			continue
		}
		i, ok := index[r.UserID]
		if !ok {
			index[r.UserID] = len(out)
			out = append(out, ruleMatch{userID: r.UserID, rule: r, channels: r.Actions.Channels()})
			continue
		}
		for _, ch := range r.Actions.Channels() {
			if !containsChannel(out[i].channels, ch) {
				out[i].channels = append(out[i].channels, ch)
			}
		}
	}
	return out
}

// NotifyVulnerability sends a vulnerability_alert to one user without rule evaluation.
func (t *Triggers) NotifyVulnerability(ctx context.Context, userID string, v domain.Vulnerability) error {
	return t.sendVulnerability(ctx, userID, v, nil, nil)
}

func (t *Triggers) sendVulnerability(ctx context.Context, userID string, v domain.Vulnerability, rule *domain.AlertRule, channels []domain.Channel) error {
	data := v.AlertData()
	if rule != nil {
		data.RuleID = rule.ID
		data.RuleName = rule.Name
	}

	title := v.CVEID
	if v.Title != "" {
		title = fmt.Sprintf("%s: %s", v.CVEID, v.Title)
	}

	_, err := t.sender.Send(ctx, SendRequest{
		UserID:   userID,
		Type:     domain.TypeVulnerabilityAlert,
		Title:    title,
		Message:  vulnerabilityMessage(v),
		Data:     data,
		Priority: domain.PriorityForSeverity(v.Severity),
		Channels: channels,
	})
	if err != nil {
		logger.Error("failed to send vulnerability_alert notification",
			zap.String("cve_id", v.CVEID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return err
}

func vulnerabilityMessage(v domain.Vulnerability) string {
	sev := strings.ToUpper(string(v.Severity.Normalize()))
	if sev == "" {
		sev = "UNRATED"
	}
	msg := fmt.Sprintf("%s severity (CVSS %.1f)", sev, v.CVSSScore)
	if len(v.AffectedSoftware) > 0 {
		msg += " affecting " + strings.Join(v.AffectedSoftware, ", ")
	}
	return msg
}

// OnCommentReply notifies the parent comment's author.
func (t *Triggers) OnCommentReply(ctx context.Context, recipientID string, reply domain.CommentReplyData) error {
	if recipientID == "" || recipientID == reply.AuthorID {
		return nil
	}
	author := reply.AuthorName
	if author == "" {
		author = "Someone"
	}
	title := fmt.Sprintf("%s replied to your comment", author)
	if reply.CVEID != "" {
		title += " on " + reply.CVEID
	}

	_, err := t.sender.Send(ctx, SendRequest{
		UserID:   recipientID,
		Type:     domain.TypeCommentReply,
		Title:    title,
		Message:  orDefault(reply.Excerpt, "You have a new reply."),
		Data:     reply,
		Priority: domain.PriorityLow,
	})
	if err != nil {
		logger.Error("failed to send comment_reply notification",
			zap.String("comment_id", reply.CommentID),
			zap.String("recipient", recipientID),
			zap.Error(err),
		)
	}
	return err
}

// OnBookmarkUpdate notifies a user that a bookmarked CVE changed.
func (t *Triggers) OnBookmarkUpdate(ctx context.Context, userID string, update domain.BookmarkUpdateData) error {
	_, err := t.sender.Send(ctx, SendRequest{
		UserID:   userID,
		Type:     domain.TypeBookmarkUpdate,
		Title:    fmt.Sprintf("%s was updated", update.CVEID),
		Message:  orDefault(update.Change, "A vulnerability you bookmarked has changed."),
		Data:     update,
		Priority: domain.PriorityMedium,
	})
	if err != nil {
		logger.Error("failed to send bookmark_update notification",
			zap.String("cve_id", update.CVEID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return err
}

// OnAchievementUnlocked congratulates a user.
func (t *Triggers) OnAchievementUnlocked(ctx context.Context, userID string, a domain.AchievementData) error {
	msg := fmt.Sprintf("You unlocked %q.", a.Name)
	if a.Points > 0 {
		msg = fmt.Sprintf("You unlocked %q and earned %d points.", a.Name, a.Points)
	}
	_, err := t.sender.Send(ctx, SendRequest{
		UserID:   userID,
		Type:     domain.TypeAchievementUnlocked,
		Title:    "Achievement unlocked",
		Message:  msg,
		Data:     a,
		Priority: domain.PriorityLow,
	})
	if err != nil {
		logger.Error("failed to send achievement_unlocked notification",
			zap.String("achievement_id", a.AchievementID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return err
}

// OnSystemAlert broadcasts to the given users.
func (t *Triggers) OnSystemAlert(ctx context.Context, p domain.SystemAlertRaisedPayload) error {
	priority := p.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	err := t.sender.SendToMany(ctx, p.UserIDs, SendRequest{
		Type:     domain.TypeSystemAlert,
		Title:    p.Title,
		Message:  p.Message,
		Data:     p.Data,
		Priority: priority,
	})
	if err != nil {
		logger.Error("failed to send system_alert notifications",
			zap.Int("recipient_count", len(p.UserIDs)),
			zap.Error(err),
		)
	}
	return err
}

// Register subscribes the triggers to the dispatcher.
func (t *Triggers) Register(d *domain.EventDispatcher) {
	d.Register(domain.EventVulnerabilityPublished, func(ctx context.Context, e *domain.DomainEvent) error {
		var p domain.VulnerabilityPublishedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.UserID != "" {
			return t.NotifyVulnerability(ctx, p.UserID, p.Vulnerability)
		}
		_, err := t.OnVulnerabilityPublished(ctx, p.Vulnerability)
		return err
	})
	d.Register(domain.EventCommentReplied, func(ctx context.Context, e *domain.DomainEvent) error {
		var p domain.CommentRepliedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		return t.OnCommentReply(ctx, p.RecipientID, p.Reply)
	})
	d.Register(domain.EventBookmarkUpdated, func(ctx context.Context, e *domain.DomainEvent) error {
		var p domain.BookmarkUpdatedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		return t.OnBookmarkUpdate(ctx, p.UserID, p.Update)
	})
	d.Register(domain.EventAchievementUnlocked, func(ctx context.Context, e *domain.DomainEvent) error {
		var p domain.AchievementUnlockedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		return t.OnAchievementUnlocked(ctx, p.UserID, p.Achievement)
	})
	d.Register(domain.EventSystemAlertRaised, func(ctx context.Context, e *domain.DomainEvent) error {
		var p domain.SystemAlertRaisedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		return t.OnSystemAlert(ctx, p)
	})
}

func containsChannel(list []domain.Channel, ch domain.Channel) bool {
	for _, c := range list {
		if c == ch {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
