package domain

import (
	"strings"
	"time"
)

// Severity is the CVSS qualitative rating.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

// Normalize lower-cases the rating so "HIGH" and "high" compare equal.
func (s Severity) Normalize() Severity {
	return Severity(strings.ToLower(strings.TrimSpace(string(s))))
}

// Vulnerability is a CVE entry in the catalog.
type Vulnerability struct {
	CVEID            string    `json:"cveId" bson:"cve_id"`
	Title            string    `json:"title" bson:"title"`
	Description      string    `json:"description,omitempty" bson:"description,omitempty"`
	Severity         Severity  `json:"severity" bson:"severity"`
	CVSSScore        float64   `json:"cvssScore" bson:"cvss_score"`
	AffectedSoftware []string  `json:"affectedSoftware,omitempty" bson:"affected_software,omitempty"`
	Source           string    `json:"source,omitempty" bson:"source,omitempty"`
	Tags             []string  `json:"tags,omitempty" bson:"tags,omitempty"`
	PublishedAt      time.Time `json:"publishedAt" bson:"published_at"`
}

// AlertData builds the vulnerability_alert payload for v.
func (v Vulnerability) AlertData() VulnerabilityAlertData {
	return VulnerabilityAlertData{
		CVEID:            v.CVEID,
		Severity:         v.Severity.Normalize(),
		CVSSScore:        v.CVSSScore,
		AffectedSoftware: v.AffectedSoftware,
	}
}

// SoftwareCount is one row of the top-affected-software aggregation.
type SoftwareCount struct {
	Software string  `json:"software" bson:"_id"`
	Count    int     `json:"count" bson:"count"`
	MaxCVSS  float64 `json:"maxCvss" bson:"max_cvss"`
}
