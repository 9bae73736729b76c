package domain

import (
	"time"
)

// bucketDayFormat keys the per-day event buckets.
const bucketDayFormat = "2006-01-02"

// appliedRingSize bounds the per-entity ring of recently applied event
// identities used for duplicate detection. Re-deliveries under at-least-once
// semantics arrive close together, so a small ring is sufficient.
const appliedRingSize = 64

// bucketRetentionDays is how far back day buckets are kept, matching the
// widest rolling window.
const bucketRetentionDays = 30

// DayBucket holds raw per-day event counts for one entity. Window counts are
// recomputed from buckets on every merge, so out-of-order arrivals land in the
// right day instead of corrupting running totals.
type DayBucket struct {
	Sessions int64 `json:"sessions,omitempty"`
	IBCalls  int64 `json:"ibCalls,omitempty"`
	Updates  int64 `json:"updates,omitempty"`
}

// AggregateRecord is the durable rolling-window summary for one entity.
// Mutated only by the aggregator; read by the feature engineer.
type AggregateRecord struct {
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`

	// Version supports optimistic concurrency in the store. Zero means the
	// record has never been persisted.
	Version int64 `json:"version"`

	// LatestTS is the entity clock: the maximum event timestamp applied so
	// far. Windows are measured relative to it, never wall clock, so replays
	// are deterministic.
	LatestTS    time.Time `json:"latestTs"`
	LastEventAt time.Time `json:"lastEventAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Buckets map[string]DayBucket `json:"buckets,omitempty"`

	// Derived window counts, recomputed from buckets on every apply.
	Sessions7d  int64 `json:"sessions7d"`
	Sessions14d int64 `json:"sessions14d"`
	Sessions30d int64 `json:"sessions30d"`
	IBCalls7d   int64 `json:"ibCalls7d"`
	IBCalls14d  int64 `json:"ibCalls14d"`
	Updates30d  int64 `json:"updates30d"`

	// Lifetime totals, unaffected by window elapsing.
	TotalSessions int64 `json:"totalSessions"`

	// Entity-type-specific scalars.
	AvgRating        float64 `json:"avgRating"`
	RatingCount      int64   `json:"ratingCount"`
	ErrorRate        float64 `json:"errorRate"`
	HealthScore      float64 `json:"healthScore"`
	ConsistencyScore float64 `json:"consistencyScore"`

	// Subject supply/demand scalars.
	AvailableTutors float64 `json:"availableTutors,omitempty"`
	ActiveStudents  float64 `json:"activeStudents,omitempty"`
	DemandScore     float64 `json:"demandScore,omitempty"`
	SupplyScore     float64 `json:"supplyScore,omitempty"`
	BalanceStatus   string  `json:"balanceStatus,omitempty"`

	// Reported snapshot overrides, sent by the upstream reporting system.
	// When set they take precedence over bucket-derived counts.
	Reported ReportedState `json:"reported,omitempty"`

	// AppliedEvents is a bounded ring of recently applied event identities,
	// newest last.
	AppliedEvents []string `json:"appliedEvents,omitempty"`
}

// NewAggregateRecord seeds an empty aggregate for an entity. Defaults match
// the feature schema documentation: health starts at 100, consistency at 1.
func NewAggregateRecord(key EntityKey) *AggregateRecord {
	return &AggregateRecord{
		EntityID:         key.ID,
		EntityType:       key.Type,
		Buckets:          make(map[string]DayBucket),
		HealthScore:      100,
		ConsistencyScore: 1,
	}
}

// Key returns the entity key this record belongs to.
func (a *AggregateRecord) Key() EntityKey {
	return EntityKey{ID: a.EntityID, Type: a.EntityType}
}

// Seen reports whether the event identity was already applied.
func (a *AggregateRecord) Seen(eventID string) bool {
	for _, id := range a.AppliedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkApplied records an event identity in the applied ring.
func (a *AggregateRecord) MarkApplied(eventID string) {
	a.AppliedEvents = append(a.AppliedEvents, eventID)
	if len(a.AppliedEvents) > appliedRingSize {
		a.AppliedEvents = a.AppliedEvents[len(a.AppliedEvents)-appliedRingSize:]
	}
}

// BucketKey returns the day-bucket key for a timestamp.
func BucketKey(ts time.Time) string {
	return ts.UTC().Format(bucketDayFormat)
}

// BucketInWindow reports whether a day bucket falls inside the trailing
// window of the given width, measured against the entity clock.
func BucketInWindow(bucketKey string, clock time.Time, days int) bool {
	day, err := time.Parse(bucketDayFormat, bucketKey)
	if err != nil {
		return false
	}
	cutoff := clock.UTC().AddDate(0, 0, -days)
	return day.After(cutoff) && !day.After(clock.UTC())
}

// RecomputeWindows rebuilds the derived window counts from day buckets
// relative to the entity clock and prunes buckets past retention.
func (a *AggregateRecord) RecomputeWindows() {
	var s7, s14, s30, c7, c14, u30 int64
	for key, b := range a.Buckets {
		if !BucketInWindow(key, a.LatestTS, bucketRetentionDays) {
			delete(a.Buckets, key)
			continue
		}
		s30 += b.Sessions
		u30 += b.Updates
		if BucketInWindow(key, a.LatestTS, 14) {
			s14 += b.Sessions
			c14 += b.IBCalls
		}
		if BucketInWindow(key, a.LatestTS, 7) {
			s7 += b.Sessions
			c7 += b.IBCalls
		}
	}
	a.Sessions7d, a.Sessions14d, a.Sessions30d = s7, s14, s30
	a.IBCalls7d, a.IBCalls14d = c7, c14
	a.Updates30d = u30
}

// EffectiveSessions7d returns the reported snapshot when present, otherwise
// the bucket-derived count.
func (a *AggregateRecord) EffectiveSessions7d() float64 {
	if a.Reported.Sessions7d != nil {
		return *a.Reported.Sessions7d
	}
	return float64(a.Sessions7d)
}

// EffectiveSessions30d returns the reported snapshot when present, otherwise
// the bucket-derived count.
func (a *AggregateRecord) EffectiveSessions30d() float64 {
	if a.Reported.Sessions30d != nil {
		return *a.Reported.Sessions30d
	}
	return float64(a.Sessions30d)
}

// EffectiveIBCalls14d returns the reported snapshot when present, otherwise
// the bucket-derived count.
func (a *AggregateRecord) EffectiveIBCalls14d() float64 {
	if a.Reported.IBCalls14d != nil {
		return *a.Reported.IBCalls14d
	}
	return float64(a.IBCalls14d)
}
