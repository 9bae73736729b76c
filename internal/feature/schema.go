package feature

import (
	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Feature schemas are versioned constants. Length and order are frozen for a
// schema version: every inference provider is trained and prompted against a
// specific version, so any change here requires a version bump that all
// providers honor.
//
// Missing or undefined inputs resolve to documented defaults, never NaN/Inf:
// ratios with a zero denominator emit 0.0, health defaults to 100 and
// consistency to 1 on a brand-new record (seeded by the aggregator), and gap
// features saturate at 30 days when no session was ever observed.
const (
	SchemaStudentV1 = "student-v1"
	SchemaTutorV1   = "tutor-v1"
	SchemaSubjectV1 = "subject-v1"
)

// studentFeatures is the fixed field order for student vectors.
var studentFeatures = []string{
	"sessions_7d",
	"sessions_14d",
	"sessions_30d",
	"session_freq_7d",
	"session_freq_14d",
	"session_freq_30d",
	"session_trend",
	"days_since_last_session",
	"avg_gap_days",
	"avg_rating",
	"ib_calls_7d",
	"ib_calls_14d",
	"ib_call_rate",
	"error_rate",
	"health_score",
	"consistency_score",
}

// tutorFeatures is the fixed field order for tutor vectors.
var tutorFeatures = []string{
	"sessions_7d",
	"sessions_14d",
	"sessions_30d",
	"session_freq_7d",
	"session_freq_30d",
	"days_since_last_session",
	"avg_rating",
	"rating_count",
	"error_rate",
	"health_score",
	"consistency_score",
	"ib_calls_14d",
}

// subjectFeatures is the fixed field order for subject vectors.
var subjectFeatures = []string{
	"available_tutors",
	"active_students",
	"demand_score",
	"supply_score",
	"demand_supply_ratio",
	"imbalance",
	"days_since_update",
	"updates_30d",
}

// SchemaFor returns the schema version and field order for an entity type.
func SchemaFor(entityType domain.EntityType) (version string, names []string) {
	switch entityType {
	case domain.EntityTutor:
		return SchemaTutorV1, tutorFeatures
	case domain.EntitySubject:
		return SchemaSubjectV1, subjectFeatures
	default:
		return SchemaStudentV1, studentFeatures
	}
}
