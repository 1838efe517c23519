package domain

import (
	"strings"
	"time"
)

// AlertRule decides whether a published vulnerability notifies its owner.
type AlertRule struct {
	ID         string          `json:"id" bson:"id"`
	UserID     string          `json:"userId" bson:"user_id"`
	Name       string          `json:"name" bson:"name"`
	Enabled    bool            `json:"enabled" bson:"enabled"`
	Conditions AlertConditions `json:"conditions" bson:"conditions"`
	Actions    AlertActions    `json:"actions" bson:"actions"`
	CreatedAt  time.Time       `json:"createdAt" bson:"created_at"`
}

// AlertConditions are ANDed; an empty set matches anything.
type AlertConditions struct {
	Severities       []Severity `json:"severities,omitempty" bson:"severities,omitempty"`
	AffectedSoftware []string   `json:"affectedSoftware,omitempty" bson:"affected_software,omitempty"`
	CVSSMin          *float64   `json:"cvssMin,omitempty" bson:"cvss_min,omitempty"`
	CVSSMax          *float64   `json:"cvssMax,omitempty" bson:"cvss_max,omitempty"`
	Sources          []string   `json:"sources,omitempty" bson:"sources,omitempty"`
	Tags             []string   `json:"tags,omitempty" bson:"tags,omitempty"`
}

// AlertActions narrow the external channels for rule-triggered sends.
type AlertActions struct {
	Email   bool `json:"email" bson:"email"`
	Push    bool `json:"push" bson:"push"`
	Webhook bool `json:"webhook" bson:"webhook"`
}

// Channels returns the allowed channels. In-app is always included.
func (a AlertActions) Channels() []Channel {
	out := []Channel{ChannelInApp}
	if a.Push {
		out = append(out, ChannelPush)
	}
	if a.Email {
		out = append(out, ChannelEmail)
	}
	if a.Webhook {
		out = append(out, ChannelWebhook)
	}
	return out
}

// Matches reports whether v satisfies every non-empty condition.
// String comparisons ignore case; software matches on substring.
func (r AlertRule) Matches(v Vulnerability) bool {
	if !r.Enabled {
		return false
	}
	c := r.Conditions

	if len(c.Severities) > 0 {
		sev := v.Severity.Normalize()
		ok := false
		for _, s := range c.Severities {
			if s.Normalize() == sev {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if c.CVSSMin != nil && v.CVSSScore < *c.CVSSMin {
		return false
	}
	if c.CVSSMax != nil && v.CVSSScore > *c.CVSSMax {
		return false
	}

	if len(c.AffectedSoftware) > 0 && !anySoftware(c.AffectedSoftware, v.AffectedSoftware) {
		return false
	}
	if len(c.Sources) > 0 && !containsFold(c.Sources, v.Source) {
		return false
	}
	if len(c.Tags) > 0 {
		ok := false
		for _, tag := range v.Tags {
			if containsFold(c.Tags, tag) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func anySoftware(wanted, affected []string) bool {
	for _, a := range affected {
		la := strings.ToLower(a)
		for _, w := range wanted {
			if w != "" && strings.Contains(la, strings.ToLower(w)) {
				return true
			}
		}
	}
	return false
}
