// Package validator checks raw inbound events against the schema and
// business-rule contract.
package validator

import (
	"fmt"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Validator validates raw events. Rejections are returned, never thrown: a
// malformed event must not abort batch processing.
type Validator struct {
	now func() time.Time
}

// New creates a validator using the wall clock for ingestion timestamps.
func New() *Validator {
	return &Validator{now: time.Now}
}

// NewWithClock creates a validator with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Validator {
	return &Validator{now: now}
}

// Validate checks a raw event. On success it returns the event in validated
// form, enriched with a canonical ingestion timestamp when the source
// timestamp is absent or unparsable. On failure it returns the rejection
// reason; the caller reports it to the data-quality channel.
func (v *Validator) Validate(raw *domain.RawEvent) (*domain.ValidatedEvent, *domain.RejectionReason) {
	eventType := domain.EventType(raw.EventType)
	if raw.EventType == "" || !domain.KnownEventTypes[eventType] {
		return nil, &domain.RejectionReason{Code: domain.RejectUnknownEventType, Field: raw.EventType}
	}

	ts, ok := parseTimestamp(raw.Timestamp)
	if !ok {
		ts = v.now().UTC()
	}

	ev := &domain.ValidatedEvent{
		Type:      eventType,
		Timestamp: ts,
	}

	var reject *domain.RejectionReason
	switch eventType {
	case domain.EventSessionStarted, domain.EventSessionCompleted:
		ev.Session, reject = validateSession(raw.Payload, eventType == domain.EventSessionCompleted)
	case domain.EventIBCallLogged:
		ev.IBCall, reject = validateIBCall(raw.Payload)
	case domain.EventCustomerHealthUpdate:
		ev.Health, reject = validateHealth(raw.Payload)
	case domain.EventSupplyDemandUpdate:
		ev.SupplyDemand, reject = validateSupplyDemand(raw.Payload)
	}
	if reject != nil {
		return nil, reject
	}

	reported, reject := extractReported(raw.Payload)
	if reject != nil {
		return nil, reject
	}
	ev.Reported = reported

	ev.ID = eventIdentity(raw, ev)
	return ev, nil
}

func validateSession(payload map[string]any, completed bool) (*domain.SessionEvent, *domain.RejectionReason) {
	entityID, ok := stringField(payload, "entity_id")
	if !ok {
		return nil, &domain.RejectionReason{Code: domain.RejectMissingField, Field: "entity_id"}
	}

	entityType := domain.EntityStudent
	if raw, ok := stringField(payload, "entity_type"); ok {
		et := domain.EntityType(raw)
		if !domain.KnownEntityTypes[et] {
			return nil, &domain.RejectionReason{Code: domain.RejectDomainViolation, Field: "entity_type"}
		}
		entityType = et
	}

	ev := &domain.SessionEvent{
		EntityID:   entityID,
		EntityType: entityType,
		Completed:  completed,
	}
	if cp, ok := stringField(payload, "counterparty_id"); ok {
		ev.CounterpartyID = cp
	}

	if rating, present, valid := numberField(payload, "rating"); present {
		if !valid || rating < 0 || rating > 5 {
			return nil, &domain.RejectionReason{Code: domain.RejectDomainViolation, Field: "rating"}
		}
		ev.Rating = &rating
	}
	if dur, present, valid := numberField(payload, "duration_min"); present {
		if !valid || dur < 0 {
			return nil, &domain.RejectionReason{Code: domain.RejectDomainViolation, Field: "duration_min"}
		}
		ev.DurationMin = &dur
	}

	return ev, nil
}

func validateIBCall(payload map[string]any) (*domain.IBCallEvent, *domain.RejectionReason) {
	entityID, ok := stringField(payload, "entity_id")
	if !ok {
		return nil, &domain.RejectionReason{Code: domain.RejectMissingField, Field: "entity_id"}
	}
	return &domain.IBCallEvent{EntityID: entityID}, nil
}

func validateHealth(payload map[string]any) (*domain.HealthEvent, *domain.RejectionReason) {
	entityID, ok := stringField(payload, "entity_id")
	if !ok {
		return nil, &domain.RejectionReason{Code: domain.RejectMissingField, Field: "entity_id"}
	}
	score, present, valid := numberField(payload, "health_score")
	if !present {
		return nil, &domain.RejectionReason{Code: domain.RejectMissingField, Field: "health_score"}
	}
	if !valid || score < 0 || score > 100 {
		return nil, &domain.RejectionReason{Code: domain.RejectDomainViolation, Field: "health_score"}
	}
	return &domain.HealthEvent{EntityID: entityID, HealthScore: score}, nil
}

func validateSupplyDemand(payload map[string]any) (*domain.SupplyDemandEvent, *domain.RejectionReason) {
	subject, ok := stringField(payload, "subject")
	if !ok {
		return nil, &domain.RejectionReason{Code: domain.RejectMissingField, Field: "subject"}
	}

	ev := &domain.SupplyDemandEvent{Subject: subject}
	if region, ok := stringField(payload, "region"); ok {
		ev.Region = region
	}
	if status, ok := stringField(payload, "balance_status"); ok {
		ev.BalanceStatus = status
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"available_tutors", &ev.AvailableTutors},
		{"active_students", &ev.ActiveStudents},
		{"demand_score", &ev.DemandScore},
		{"supply_score", &ev.SupplyScore},
	} {
		if val, present, valid := numberField(payload, f.name); present {
			if !valid || val < 0 {
				return nil, &domain.RejectionReason{Code: domain.RejectDomainViolation, Field: f.name}
			}
			*f.dst = val
		}
	}

	return ev, nil
}

// extractReported pulls optional snapshot fields any event may carry.
func extractReported(payload map[string]any) (*domain.ReportedState, *domain.RejectionReason) {
	rs := &domain.ReportedState{}

	for _, f := range []struct {
		name string
		max  float64 // < 0 means unbounded
		dst  **float64
	}{
		{"sessions_7d", -1, &rs.Sessions7d},
		{"sessions_30d", -1, &rs.Sessions30d},
		{"ib_calls_14d", -1, &rs.IBCalls14d},
		{"error_rate", -1, &rs.ErrorRate},
		{"health_score", 100, &rs.HealthScore},
	} {
		val, present, valid := numberField(payload, f.name)
		if !present {
			continue
		}
		if !valid || val < 0 || (f.max >= 0 && val > f.max) {
			return nil, &domain.RejectionReason{Code: domain.RejectDomainViolation, Field: f.name}
		}
		v := val
		*f.dst = &v
	}

	if rs.Empty() {
		return nil, nil
	}
	return rs, nil
}

// eventIdentity builds the stable duplicate-detection identity: source id +
// timestamp when the stream provides one, otherwise type + primary entity +
// timestamp. Deterministic under replay.
func eventIdentity(raw *domain.RawEvent, ev *domain.ValidatedEvent) string {
	ts := ev.Timestamp.UTC().Format(time.RFC3339Nano)
	if raw.SourceID != "" {
		return raw.SourceID + "@" + ts
	}
	return fmt.Sprintf("%s/%s@%s", ev.Type, ev.Primary().String(), ts)
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// numberField returns (value, present, validNumeric). JSON decoding yields
// float64; int variants show up from hand-built payloads in tests.
func numberField(payload map[string]any, key string) (float64, bool, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false, false
	}
	switch n := v.(type) {
	case float64:
		return n, true, true
	case float32:
		return float64(n), true, true
	case int:
		return float64(n), true, true
	case int64:
		return float64(n), true, true
	default:
		return 0, true, false
	}
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
