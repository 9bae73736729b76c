package domain

import (
	"time"
)

// InsightSource records which inference tier produced an insight. Required
// for drift and accuracy audits.
type InsightSource string

const (
	SourcePrimary   InsightSource = "primary"
	SourceSecondary InsightSource = "secondary"
	SourceFallback  InsightSource = "fallback"
)

// Segment buckets an entity by predicted health, following the original
// marketplace segmentation thresholds. Only the primary tier produces it.
type Segment string

const (
	SegmentThriving Segment = "thriving"
	SegmentHealthy  Segment = "healthy"
	SegmentAtRisk   Segment = "at_risk"
	SegmentChurned  Segment = "churned"
)

// InsightTTL is how long persisted insights are retained.
const InsightTTL = 30 * 24 * time.Hour

// Insight is the normalized output of the inference engine for one event.
// Immutable once written.
type Insight struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	EventID    string     `json:"eventId"`
	Timestamp  time.Time  `json:"timestamp"`

	// RiskScore is on the canonical 0-100 scale regardless of tier.
	RiskScore       float64  `json:"riskScore"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations,omitempty"`

	Source     InsightSource `json:"source"`
	ModelID    string        `json:"modelId"`
	Confidence float64       `json:"confidence"`
	Segment    Segment       `json:"segment,omitempty"`

	// Severity is denormalized onto the insight at dispatch time for audit.
	Severity Severity `json:"severity,omitempty"`

	ExpiresAt time.Time `json:"expiresAt"`
}

// Severity is the alert-priority classification of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertEnvelope wraps an insight for channel delivery. Terminal states are
// delivered or dead-lettered.
type AlertEnvelope struct {
	ID           string    `json:"id"`
	InsightID    string    `json:"insightId"`
	Severity     Severity  `json:"severity"`
	Channel      string    `json:"channel"`
	AttemptCount int       `json:"attemptCount"`
	CreatedAt    time.Time `json:"createdAt"`

	Insight *Insight `json:"insight,omitempty"`
}

// DataQualityReport is published for every rejected or malformed event.
type DataQualityReport struct {
	Event  RawEvent `json:"event"`
	Code   string   `json:"code"`
	Field  string   `json:"field,omitempty"`
	Reason string   `json:"reason"`
}
