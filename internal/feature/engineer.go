// Package feature turns aggregate records into fixed-schema feature vectors
// for the inference tiers.
package feature

import (
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// noSessionGapDays saturates gap features when no session was ever observed.
const noSessionGapDays = 30.0

// Engineer builds feature vectors. Pure and deterministic: everything is
// computed from the aggregate's stored scalars and buckets, never from raw
// history the aggregator did not retain, and never from the wall clock.
type Engineer struct{}

// New creates a feature engineer.
func New() *Engineer {
	return &Engineer{}
}

// Engineer builds the feature vector for an aggregate. The output length and
// order are fixed per entity type (see schema.go).
func (e *Engineer) Engineer(rec *domain.AggregateRecord) *domain.FeatureVector {
	version, names := SchemaFor(rec.EntityType)

	var values []float64
	switch rec.EntityType {
	case domain.EntityTutor:
		values = tutorValues(rec)
	case domain.EntitySubject:
		values = subjectValues(rec)
	default:
		values = studentValues(rec)
	}

	return &domain.FeatureVector{
		EntityType:    rec.EntityType,
		SchemaVersion: version,
		Names:         names,
		Values:        values,
	}
}

func studentValues(rec *domain.AggregateRecord) []float64 {
	s7 := rec.EffectiveSessions7d()
	s14 := float64(rec.Sessions14d)
	s30 := rec.EffectiveSessions30d()
	ib7 := float64(rec.IBCalls7d)
	ib14 := rec.EffectiveIBCalls14d()

	return []float64{
		s7,
		s14,
		s30,
		s7 / 7.0,
		s14 / 14.0,
		s30 / 30.0,
		s7 - (s14 - s7), // positive when the last week outpaced the week before
		daysSinceLastSession(rec),
		avgGapDays(s30),
		rec.AvgRating,
		ib7,
		ib14,
		ib14 / 14.0,
		rec.ErrorRate,
		rec.HealthScore,
		rec.ConsistencyScore,
	}
}

func tutorValues(rec *domain.AggregateRecord) []float64 {
	s7 := rec.EffectiveSessions7d()
	s30 := rec.EffectiveSessions30d()

	return []float64{
		s7,
		float64(rec.Sessions14d),
		s30,
		s7 / 7.0,
		s30 / 30.0,
		daysSinceLastSession(rec),
		rec.AvgRating,
		float64(rec.RatingCount),
		rec.ErrorRate,
		rec.HealthScore,
		rec.ConsistencyScore,
		rec.EffectiveIBCalls14d(),
	}
}

func subjectValues(rec *domain.AggregateRecord) []float64 {
	ratio := 0.0
	if rec.SupplyScore > 0 {
		ratio = rec.DemandScore / rec.SupplyScore
	}
	imbalance := 0.0
	if rec.BalanceStatus == "high_demand" {
		imbalance = 1.0
	}

	return []float64{
		rec.AvailableTutors,
		rec.ActiveStudents,
		rec.DemandScore,
		rec.SupplyScore,
		ratio,
		imbalance,
		daysSinceLastUpdate(rec),
		float64(rec.Updates30d),
	}
}

// daysSinceLastSession measures against the entity clock, from the most
// recent bucket with session activity. Saturates when no session exists.
func daysSinceLastSession(rec *domain.AggregateRecord) float64 {
	return daysSinceBucket(rec, func(b domain.DayBucket) bool { return b.Sessions > 0 })
}

func daysSinceLastUpdate(rec *domain.AggregateRecord) float64 {
	return daysSinceBucket(rec, func(b domain.DayBucket) bool { return b.Updates > 0 })
}

func daysSinceBucket(rec *domain.AggregateRecord, match func(domain.DayBucket) bool) float64 {
	var latest time.Time
	found := false
	for day, b := range rec.Buckets {
		if !match(b) {
			continue
		}
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return noSessionGapDays
	}
	days := rec.LatestTS.UTC().Sub(latest).Hours() / 24.0
	if days < 0 {
		return 0
	}
	if days > noSessionGapDays {
		return noSessionGapDays
	}
	return days
}

func avgGapDays(sessions30 float64) float64 {
	if sessions30 <= 0 {
		return noSessionGapDays
	}
	return 30.0 / sessions30
}
