// Package domain defines the core types and collaborator interfaces for Kestrel.
package domain

import (
	"time"
)

// EventType identifies one kind of telemetry event. The vocabulary is closed:
// anything outside this set is rejected by the validator.
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventSessionCompleted     EventType = "session_completed"
	EventIBCallLogged         EventType = "ib_call_logged"
	EventCustomerHealthUpdate EventType = "customer_health_update"
	EventSupplyDemandUpdate   EventType = "supply_demand_update"
)

// KnownEventTypes is the closed event vocabulary.
var KnownEventTypes = map[EventType]bool{
	EventSessionStarted:       true,
	EventSessionCompleted:     true,
	EventIBCallLogged:         true,
	EventCustomerHealthUpdate: true,
	EventSupplyDemandUpdate:   true,
}

// EntityType identifies the kind of tracked subject.
type EntityType string

const (
	EntityStudent EntityType = "student"
	EntityTutor   EntityType = "tutor"
	EntitySubject EntityType = "subject"
)

// KnownEntityTypes is the closed entity vocabulary.
var KnownEntityTypes = map[EntityType]bool{
	EntityStudent: true,
	EntityTutor:   true,
	EntitySubject: true,
}

// EntityKey uniquely identifies a tracked entity.
type EntityKey struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
}

func (k EntityKey) String() string {
	return string(k.Type) + ":" + k.ID
}

// RawEvent is an inbound event exactly as pulled from the upstream stream.
// It lives only for the duration of a single pipeline pass.
type RawEvent struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"payload"`

	// SourceID is the stream-assigned record identity (e.g. partition/offset).
	// Combined with the event timestamp it forms the stable identity used for
	// duplicate detection under at-least-once delivery.
	SourceID string `json:"source_id,omitempty"`
}

// SessionEvent is the validated form of session_started / session_completed.
type SessionEvent struct {
	EntityID       string     `json:"entityId"`
	EntityType     EntityType `json:"entityType"`
	CounterpartyID string     `json:"counterpartyId,omitempty"`
	Completed      bool       `json:"completed"`
	Rating         *float64   `json:"rating,omitempty"`
	DurationMin    *float64   `json:"durationMin,omitempty"`
}

// IBCallEvent is the validated form of ib_call_logged.
type IBCallEvent struct {
	EntityID string `json:"entityId"`
}

// HealthEvent is the validated form of customer_health_update.
type HealthEvent struct {
	EntityID    string  `json:"entityId"`
	HealthScore float64 `json:"healthScore"`
}

// SupplyDemandEvent is the validated form of supply_demand_update.
type SupplyDemandEvent struct {
	Subject         string  `json:"subject"`
	Region          string  `json:"region,omitempty"`
	AvailableTutors float64 `json:"availableTutors"`
	ActiveStudents  float64 `json:"activeStudents"`
	DemandScore     float64 `json:"demandScore"`
	SupplyScore     float64 `json:"supplyScore"`
	BalanceStatus   string  `json:"balanceStatus,omitempty"`
}

// ReportedState carries optional snapshot fields an event may report about an
// entity. Reported values overwrite the corresponding aggregate scalars after
// window buckets are updated: the reporting system is the source of truth for
// the scalars it chooses to send.
type ReportedState struct {
	Sessions7d  *float64 `json:"sessions7d,omitempty"`
	Sessions30d *float64 `json:"sessions30d,omitempty"`
	IBCalls14d  *float64 `json:"ibCalls14d,omitempty"`
	ErrorRate   *float64 `json:"errorRate,omitempty"`
	HealthScore *float64 `json:"healthScore,omitempty"`
}

// Empty reports whether no snapshot fields are set.
func (r *ReportedState) Empty() bool {
	if r == nil {
		return true
	}
	return r.Sessions7d == nil && r.Sessions30d == nil && r.IBCalls14d == nil &&
		r.ErrorRate == nil && r.HealthScore == nil
}

// ValidatedEvent is a RawEvent that passed schema and business-rule checks.
// It is a closed tagged union keyed by Type: exactly one variant is non-nil.
type ValidatedEvent struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"` // stable identity: source id + timestamp
	Timestamp time.Time `json:"timestamp"`

	Session      *SessionEvent      `json:"session,omitempty"`
	IBCall       *IBCallEvent       `json:"ibCall,omitempty"`
	Health       *HealthEvent       `json:"health,omitempty"`
	SupplyDemand *SupplyDemandEvent `json:"supplyDemand,omitempty"`

	Reported *ReportedState `json:"reported,omitempty"`
}

// Primary returns the entity key the event is primarily about. Inference runs
// against this entity's aggregate.
func (v *ValidatedEvent) Primary() EntityKey {
	switch v.Type {
	case EventSessionStarted, EventSessionCompleted:
		return EntityKey{ID: v.Session.EntityID, Type: v.Session.EntityType}
	case EventIBCallLogged:
		return EntityKey{ID: v.IBCall.EntityID, Type: EntityStudent}
	case EventCustomerHealthUpdate:
		return EntityKey{ID: v.Health.EntityID, Type: EntityStudent}
	case EventSupplyDemandUpdate:
		return EntityKey{ID: v.SupplyDemand.Subject, Type: EntitySubject}
	}
	return EntityKey{}
}

// Targets returns every entity key whose aggregate the event touches, primary
// first. A session event also credits the counterparty tutor.
func (v *ValidatedEvent) Targets() []EntityKey {
	keys := []EntityKey{v.Primary()}
	if v.Session != nil && v.Session.CounterpartyID != "" {
		keys = append(keys, EntityKey{ID: v.Session.CounterpartyID, Type: EntityTutor})
	}
	return keys
}
