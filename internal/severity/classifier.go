// Package severity maps risk scores to alert severities using per-entity-type
// thresholds.
package severity

import (
	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Classifier assigns severities from configured thresholds. Thresholds are
// lower-bound inclusive: a score equal to the critical threshold is critical.
type Classifier struct {
	thresholds map[domain.EntityType]domain.SeverityThresholds
}

// New creates a classifier. Entity types missing from cfg fall back to the
// default thresholds for that type.
func New(cfg domain.SeverityConfig) *Classifier {
	if len(cfg.Thresholds) == 0 {
		cfg = domain.DefaultSeverityConfig()
	}
	return &Classifier{thresholds: cfg.Thresholds}
}

// Classify returns the severity for a risk score in [0, 100].
func (c *Classifier) Classify(entityType domain.EntityType, riskScore float64) domain.Severity {
	t := c.Thresholds(entityType)

	switch {
	case riskScore >= t.Critical:
		return domain.SeverityCritical
	case riskScore >= t.Warning:
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

// Thresholds returns the configured thresholds for an entity type. A type
// absent from the configuration uses the default thresholds, never the zero
// value, so a partial custom configuration cannot make every score critical.
func (c *Classifier) Thresholds(entityType domain.EntityType) domain.SeverityThresholds {
	if t, ok := c.thresholds[entityType]; ok {
		return t
	}
	defaults := domain.DefaultSeverityConfig().Thresholds
	if t, ok := defaults[entityType]; ok {
		return t
	}
	return defaults[domain.EntityStudent]
}
