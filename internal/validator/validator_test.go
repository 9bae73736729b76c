package validator

import (
	"testing"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	return NewWithClock(func() time.Time { return fixedNow })
}

func TestValidateUnknownEventType(t *testing.T) {
	v := newTestValidator()

	cases := []string{"", "made_up_event", "SESSION_STARTED"}
	for _, eventType := range cases {
		_, reject := v.Validate(&domain.RawEvent{
			EventType: eventType,
			Payload:   map[string]any{"entity_id": "s1"},
		})
		if reject == nil {
			t.Errorf("event type %q: expected rejection", eventType)
			continue
		}
		if reject.Code != domain.RejectUnknownEventType {
			t.Errorf("event type %q: code = %s, want %s", eventType, reject.Code, domain.RejectUnknownEventType)
		}
	}
}

func TestValidateMissingRequiredField(t *testing.T) {
	v := newTestValidator()

	cases := []struct {
		eventType string
		payload   map[string]any
		field     string
	}{
		{"session_completed", map[string]any{}, "entity_id"},
		{"ib_call_logged", map[string]any{"other": "x"}, "entity_id"},
		{"customer_health_update", map[string]any{"entity_id": "s1"}, "health_score"},
		{"supply_demand_update", map[string]any{"region": "emea"}, "subject"},
	}

	for _, tc := range cases {
		_, reject := v.Validate(&domain.RawEvent{EventType: tc.eventType, Payload: tc.payload})
		if reject == nil {
			t.Errorf("%s: expected rejection", tc.eventType)
			continue
		}
		if reject.Code != domain.RejectMissingField || reject.Field != tc.field {
			t.Errorf("%s: got %s:%s, want %s:%s", tc.eventType, reject.Code, reject.Field, domain.RejectMissingField, tc.field)
		}
	}
}

func TestValidateDomainViolations(t *testing.T) {
	v := newTestValidator()

	cases := []struct {
		name    string
		raw     domain.RawEvent
		field   string
	}{
		{
			name: "negative rating",
			raw: domain.RawEvent{
				EventType: "session_completed",
				Payload:   map[string]any{"entity_id": "s1", "rating": -1.0},
			},
			field: "rating",
		},
		{
			name: "rating above scale",
			raw: domain.RawEvent{
				EventType: "session_completed",
				Payload:   map[string]any{"entity_id": "s1", "rating": 5.5},
			},
			field: "rating",
		},
		{
			name: "health score above 100",
			raw: domain.RawEvent{
				EventType: "customer_health_update",
				Payload:   map[string]any{"entity_id": "s1", "health_score": 120.0},
			},
			field: "health_score",
		},
		{
			name: "negative error rate snapshot",
			raw: domain.RawEvent{
				EventType: "session_completed",
				Payload:   map[string]any{"entity_id": "s1", "error_rate": -0.1},
			},
			field: "error_rate",
		},
		{
			name: "non-numeric demand score",
			raw: domain.RawEvent{
				EventType: "supply_demand_update",
				Payload:   map[string]any{"subject": "math", "demand_score": "high"},
			},
			field: "demand_score",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, reject := v.Validate(&tc.raw)
			if reject == nil {
				t.Fatal("expected rejection")
			}
			if reject.Code != domain.RejectDomainViolation || reject.Field != tc.field {
				t.Errorf("got %s:%s, want %s:%s", reject.Code, reject.Field, domain.RejectDomainViolation, tc.field)
			}
		})
	}
}

func TestValidateFillsIngestionTimestamp(t *testing.T) {
	v := newTestValidator()

	for _, raw := range []string{"", "not-a-timestamp"} {
		ev, reject := v.Validate(&domain.RawEvent{
			EventType: "ib_call_logged",
			Timestamp: raw,
			Payload:   map[string]any{"entity_id": "s1"},
		})
		if reject != nil {
			t.Fatalf("unexpected rejection: %v", reject)
		}
		if !ev.Timestamp.Equal(fixedNow) {
			t.Errorf("timestamp %q: got %v, want canonical %v", raw, ev.Timestamp, fixedNow)
		}
	}
}

func TestValidateParsesSourceTimestamp(t *testing.T) {
	v := newTestValidator()

	ev, reject := v.Validate(&domain.RawEvent{
		EventType: "session_started",
		Timestamp: "2024-05-20T08:30:00Z",
		Payload:   map[string]any{"entity_id": "s1", "counterparty_id": "t9"},
	})
	if reject != nil {
		t.Fatalf("unexpected rejection: %v", reject)
	}

	want := time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.Session == nil || ev.Session.CounterpartyID != "t9" {
		t.Error("expected session variant with counterparty")
	}

	targets := ev.Targets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0] != (domain.EntityKey{ID: "s1", Type: domain.EntityStudent}) {
		t.Errorf("primary target = %v", targets[0])
	}
	if targets[1] != (domain.EntityKey{ID: "t9", Type: domain.EntityTutor}) {
		t.Errorf("counterparty target = %v", targets[1])
	}
}

func TestValidateExtractsReportedSnapshot(t *testing.T) {
	v := newTestValidator()

	ev, reject := v.Validate(&domain.RawEvent{
		EventType: "session_completed",
		Payload: map[string]any{
			"entity_id":   "e1",
			"sessions_7d": 0.0,
			"error_rate":  0.08,
		},
	})
	if reject != nil {
		t.Fatalf("unexpected rejection: %v", reject)
	}
	if ev.Reported == nil {
		t.Fatal("expected reported snapshot")
	}
	if ev.Reported.Sessions7d == nil || *ev.Reported.Sessions7d != 0 {
		t.Error("sessions_7d snapshot not extracted")
	}
	if ev.Reported.ErrorRate == nil || *ev.Reported.ErrorRate != 0.08 {
		t.Error("error_rate snapshot not extracted")
	}
}

func TestEventIdentityIsStable(t *testing.T) {
	v := newTestValidator()

	raw := &domain.RawEvent{
		EventType: "ib_call_logged",
		Timestamp: "2024-05-20T08:30:00Z",
		Payload:   map[string]any{"entity_id": "s1"},
		SourceID:  "0/42",
	}

	first, _ := v.Validate(raw)
	second, _ := v.Validate(raw)
	if first.ID == "" || first.ID != second.ID {
		t.Errorf("identity not stable: %q vs %q", first.ID, second.ID)
	}
}
