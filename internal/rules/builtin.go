package rules

import (
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/feature"
)

// allFeatureNames returns the union of feature names across every schema, in
// a stable order. Used both for CEL variable declarations and for zero
// defaults at evaluation time.
func allFeatureNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, et := range []domain.EntityType{domain.EntityStudent, domain.EntityTutor, domain.EntitySubject} {
		_, schema := feature.SchemaFor(et)
		for _, name := range schema {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// DefaultRules returns the built-in fallback rule set. Weights are risk
// points: the fallback tier sums the triggered weights and clamps to 100.
// They are seeded into the store on first start and can be tuned or replaced
// through the rules API afterwards.
func DefaultRules() []*domain.FallbackRule {
	return []*domain.FallbackRule{
		{
			ID:             "student-inactivity-7d",
			Name:           "No sessions in the last 7 days",
			Description:    "Student booked zero sessions over the trailing week.",
			Version:        "1",
			EntityType:     domain.EntityStudent,
			Expression:     `sessions_7d == 0.0`,
			Weight:         45,
			Reason:         "no sessions in the last 7 days",
			Recommendation: "Reach out with a re-engagement offer before the student goes fully inactive.",
			Enabled:        true,
		},
		{
			ID:             "student-elevated-error-rate",
			Name:           "Elevated session error rate",
			Description:    "Session failures above the healthy baseline of 5%.",
			Version:        "1",
			EntityType:     domain.EntityStudent,
			Expression:     `error_rate >= 0.05`,
			Weight:         40,
			Reason:         "session error rate above 5%",
			Recommendation: "Investigate recent session failures and confirm the student's setup works.",
			Enabled:        true,
		},
		{
			ID:             "student-excessive-ib-calls",
			Name:           "Frequent inbound support calls",
			Description:    "Three or more inbound calls in 14 days signals unresolved friction.",
			Version:        "1",
			EntityType:     domain.EntityStudent,
			Expression:     `ib_calls_14d >= 3.0`,
			Weight:         50,
			Reason:         "3+ inbound support calls in 14 days",
			Recommendation: "Escalate to an account specialist to resolve the recurring issue.",
			Enabled:        true,
		},
		{
			ID:             "student-low-health",
			Name:           "Health score below 70",
			Description:    "Composite health in the warning band.",
			Version:        "1",
			EntityType:     domain.EntityStudent,
			Expression:     `health_score < 70.0 && health_score >= 50.0`,
			Weight:         55,
			Reason:         "health score below 70",
			Recommendation: "Schedule a check-in call to understand what is dragging health down.",
			Enabled:        true,
		},
		{
			ID:             "student-critical-health",
			Name:           "Health score below 50",
			Description:    "Composite health in the critical band.",
			Version:        "1",
			EntityType:     domain.EntityStudent,
			Expression:     `health_score < 50.0`,
			Weight:         85,
			Reason:         "health score below 50",
			Recommendation: "Trigger the retention playbook immediately.",
			Enabled:        true,
		},
		{
			ID:             "student-declining-engagement",
			Name:           "Week-over-week session decline",
			Description:    "Fewer sessions this week than the week before.",
			Version:        "1",
			EntityType:     domain.EntityStudent,
			Expression:     `session_trend < 0.0 && sessions_30d > 0.0`,
			Weight:         20,
			Reason:         "session count declining week over week",
			Recommendation: "Suggest a recurring booking to stabilize the cadence.",
			Enabled:        true,
		},
		{
			ID:             "tutor-inactivity-7d",
			Name:           "Tutor idle for a week",
			Description:    "Tutor delivered zero sessions over the trailing week.",
			Version:        "1",
			EntityType:     domain.EntityTutor,
			Expression:     `sessions_7d == 0.0`,
			Weight:         45,
			Reason:         "no sessions delivered in the last 7 days",
			Recommendation: "Check tutor availability settings and nudge them to open slots.",
			Enabled:        true,
		},
		{
			ID:             "tutor-low-rating",
			Name:           "Low average rating",
			Description:    "Rated below 3.5 across at least three ratings.",
			Version:        "1",
			EntityType:     domain.EntityTutor,
			Expression:     `avg_rating < 3.5 && rating_count >= 3.0`,
			Weight:         50,
			Reason:         "average rating below 3.5",
			Recommendation: "Offer coaching resources and review recent session feedback.",
			Enabled:        true,
		},
		{
			ID:             "tutor-critical-health",
			Name:           "Tutor health below 50",
			Description:    "Composite health in the critical band.",
			Version:        "1",
			EntityType:     domain.EntityTutor,
			Expression:     `health_score < 50.0`,
			Weight:         85,
			Reason:         "health score below 50",
			Recommendation: "Review the tutor's recent activity with the supply operations team.",
			Enabled:        true,
		},
		{
			ID:             "tutor-elevated-error-rate",
			Name:           "Elevated delivery error rate",
			Description:    "Session failures above the healthy baseline of 5%.",
			Version:        "1",
			EntityType:     domain.EntityTutor,
			Expression:     `error_rate >= 0.05`,
			Weight:         40,
			Reason:         "session error rate above 5%",
			Recommendation: "Verify the tutor's connectivity and session tooling.",
			Enabled:        true,
		},
		{
			ID:             "subject-high-demand",
			Name:           "Demand outstrips supply",
			Description:    "The subject is flagged as high demand by supply/demand reporting.",
			Version:        "1",
			EntityType:     domain.EntitySubject,
			Expression:     `imbalance == 1.0`,
			Weight:         35,
			Reason:         "demand exceeds tutor supply",
			Recommendation: "Recruit additional tutors for this subject.",
			Enabled:        true,
		},
		{
			ID:             "subject-supply-shortage",
			Name:           "Severe supply shortage",
			Description:    "Demand at least double the available supply.",
			Version:        "1",
			EntityType:     domain.EntitySubject,
			Expression:     `demand_supply_ratio >= 2.0`,
			Weight:         40,
			Reason:         "demand at least twice the available supply",
			Recommendation: "Prioritize tutor onboarding and consider surge incentives.",
			Enabled:        true,
		},
		{
			ID:             "subject-stale-data",
			Name:           "Stale supply/demand data",
			Description:    "No supply/demand update in two weeks.",
			Version:        "1",
			EntityType:     domain.EntitySubject,
			Expression:     `days_since_update >= 14.0`,
			Weight:         20,
			Reason:         "no supply/demand update in 14 days",
			Recommendation: "Check the upstream reporting job for this subject.",
			Enabled:        true,
		},
	}
}
