package severity

import (
	"testing"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

func TestClassifyBoundaries(t *testing.T) {
	c := New(domain.DefaultSeverityConfig())

	tests := []struct {
		name       string
		entityType domain.EntityType
		risk       float64
		want       domain.Severity
	}{
		{"student zero", domain.EntityStudent, 0, domain.SeverityInfo},
		{"student just below warning", domain.EntityStudent, 49.9, domain.SeverityInfo},
		{"student at warning", domain.EntityStudent, 50, domain.SeverityWarning},
		{"student just below critical", domain.EntityStudent, 79, domain.SeverityWarning},
		{"student at critical", domain.EntityStudent, 80, domain.SeverityCritical},
		{"student max", domain.EntityStudent, 100, domain.SeverityCritical},
		{"tutor at student critical", domain.EntityTutor, 80, domain.SeverityWarning},
		{"tutor at critical", domain.EntityTutor, 85, domain.SeverityCritical},
		{"subject at warning", domain.EntitySubject, 60, domain.SeverityWarning},
		{"subject at critical", domain.EntitySubject, 90, domain.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.entityType, tt.risk); got != tt.want {
				t.Fatalf("Classify(%s, %v) = %s, want %s", tt.entityType, tt.risk, got, tt.want)
			}
		})
	}
}

func TestClassifyUnknownEntityFallsBack(t *testing.T) {
	c := New(domain.DefaultSeverityConfig())

	if got := c.Classify(domain.EntityType("unknown"), 80); got != domain.SeverityCritical {
		t.Fatalf("unknown entity at 80 = %s, want critical (student thresholds)", got)
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	c := New(domain.SeverityConfig{
		Thresholds: map[domain.EntityType]domain.SeverityThresholds{
			domain.EntityStudent: {Warning: 10, Critical: 20},
		},
	})

	if got := c.Classify(domain.EntityStudent, 15); got != domain.SeverityWarning {
		t.Fatalf("got %s, want warning", got)
	}
	if got := c.Classify(domain.EntityStudent, 20); got != domain.SeverityCritical {
		t.Fatalf("got %s, want critical", got)
	}
}

// A partial custom configuration must not expose zero thresholds for the
// types it omits: those use the defaults, so low scores stay info.
func TestPartialConfigFallsBackToDefaults(t *testing.T) {
	c := New(domain.SeverityConfig{
		Thresholds: map[domain.EntityType]domain.SeverityThresholds{
			domain.EntityTutor: {Warning: 10, Critical: 20},
		},
	})

	if got := c.Thresholds(domain.EntityStudent); got.Warning != 50 || got.Critical != 80 {
		t.Fatalf("student thresholds = %+v, want defaults 50/80", got)
	}
	if got := c.Classify(domain.EntityStudent, 5); got != domain.SeverityInfo {
		t.Fatalf("student at 5 = %s, want info", got)
	}
	if got := c.Classify(domain.EntitySubject, 30); got != domain.SeverityInfo {
		t.Fatalf("subject at 30 = %s, want info", got)
	}
	if got := c.Classify(domain.EntityTutor, 20); got != domain.SeverityCritical {
		t.Fatalf("tutor at 20 = %s, want critical (custom thresholds)", got)
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	c := New(domain.SeverityConfig{})

	if got := c.Thresholds(domain.EntityTutor); got.Critical != 85 {
		t.Fatalf("tutor critical = %v, want default 85", got.Critical)
	}
}
