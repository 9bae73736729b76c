// Package aggregate applies validated events to per-entity rolling-window
// aggregate records.
package aggregate

import (
	"fmt"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Aggregator computes the next aggregate state for an entity. Apply is pure:
// store round-trips and optimistic-conflict retries belong to the caller.
type Aggregator struct{}

// New creates an aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Apply merges one validated event into the aggregate for the given target
// entity. Upsert semantics: a nil current record is seeded from the event.
// Applying the same event identity twice is a no-op, which makes re-delivery
// under at-least-once semantics safe. The input record is not mutated.
func (a *Aggregator) Apply(key domain.EntityKey, ev *domain.ValidatedEvent, current *domain.AggregateRecord) (*domain.AggregateRecord, error) {
	if key.ID == "" || !domain.KnownEntityTypes[key.Type] {
		return nil, fmt.Errorf("%w: malformed entity key %q", domain.ErrInvalidInput, key.String())
	}
	if ev == nil || ev.ID == "" {
		return nil, fmt.Errorf("%w: event identity is required", domain.ErrInvalidInput)
	}

	var rec *domain.AggregateRecord
	if current == nil {
		rec = domain.NewAggregateRecord(key)
	} else {
		if current.Seen(ev.ID) {
			return current, nil
		}
		rec = clone(current)
	}

	// Entity clock: windows are measured against the latest timestamp seen
	// for this entity, never wall clock, so replay is deterministic.
	if ev.Timestamp.After(rec.LatestTS) {
		rec.LatestTS = ev.Timestamp
	}
	rec.LastEventAt = ev.Timestamp

	a.merge(rec, key, ev)

	if ev.Reported != nil {
		applyReported(rec, ev.Reported)
	}

	rec.MarkApplied(ev.ID)
	rec.RecomputeWindows()
	rec.ConsistencyScore = consistency(rec)
	rec.UpdatedAt = rec.LatestTS

	return rec, nil
}

// merge routes the event variant into day buckets and scalars.
func (a *Aggregator) merge(rec *domain.AggregateRecord, key domain.EntityKey, ev *domain.ValidatedEvent) {
	day := domain.BucketKey(ev.Timestamp)
	bucket := rec.Buckets[day]

	switch ev.Type {
	case domain.EventSessionStarted, domain.EventSessionCompleted:
		bucket.Sessions++
		rec.TotalSessions++

		// A session rating scores the tutor side of the match.
		if ev.Session.Rating != nil && key.Type == domain.EntityTutor {
			n := float64(rec.RatingCount)
			rec.AvgRating = (rec.AvgRating*n + *ev.Session.Rating) / (n + 1)
			rec.RatingCount++
		}

	case domain.EventIBCallLogged:
		bucket.IBCalls++

	case domain.EventCustomerHealthUpdate:
		rec.HealthScore = ev.Health.HealthScore
		bucket.Updates++

	case domain.EventSupplyDemandUpdate:
		sd := ev.SupplyDemand
		rec.AvailableTutors = sd.AvailableTutors
		rec.ActiveStudents = sd.ActiveStudents
		rec.DemandScore = sd.DemandScore
		rec.SupplyScore = sd.SupplyScore
		rec.BalanceStatus = sd.BalanceStatus
		bucket.Updates++
	}

	rec.Buckets[day] = bucket
}

// applyReported overwrites aggregate scalars with upstream snapshots. The
// reporting system is the source of truth for the values it sends.
func applyReported(rec *domain.AggregateRecord, rs *domain.ReportedState) {
	if rs.Sessions7d != nil {
		v := *rs.Sessions7d
		rec.Reported.Sessions7d = &v
	}
	if rs.Sessions30d != nil {
		v := *rs.Sessions30d
		rec.Reported.Sessions30d = &v
	}
	if rs.IBCalls14d != nil {
		v := *rs.IBCalls14d
		rec.Reported.IBCalls14d = &v
	}
	if rs.ErrorRate != nil {
		rec.ErrorRate = *rs.ErrorRate
	}
	if rs.HealthScore != nil {
		rec.HealthScore = *rs.HealthScore
	}
}

// consistency scores how evenly spread recent sessions are: the share of
// distinct active days in the trailing 14-day window, saturating at 4 active
// days (roughly two sessions a week).
func consistency(rec *domain.AggregateRecord) float64 {
	if rec.TotalSessions == 0 {
		return 1
	}
	activeDays := 0
	for day, b := range rec.Buckets {
		if b.Sessions > 0 && domain.BucketInWindow(day, rec.LatestTS, 14) {
			activeDays++
		}
	}
	score := float64(activeDays) / 4.0
	if score > 1 {
		return 1
	}
	return score
}

func clone(rec *domain.AggregateRecord) *domain.AggregateRecord {
	cp := *rec

	cp.Buckets = make(map[string]domain.DayBucket, len(rec.Buckets))
	for k, v := range rec.Buckets {
		cp.Buckets[k] = v
	}

	cp.AppliedEvents = append([]string(nil), rec.AppliedEvents...)

	cp.Reported = domain.ReportedState{}
	if rec.Reported.Sessions7d != nil {
		v := *rec.Reported.Sessions7d
		cp.Reported.Sessions7d = &v
	}
	if rec.Reported.Sessions30d != nil {
		v := *rec.Reported.Sessions30d
		cp.Reported.Sessions30d = &v
	}
	if rec.Reported.IBCalls14d != nil {
		v := *rec.Reported.IBCalls14d
		cp.Reported.IBCalls14d = &v
	}

	return &cp
}
