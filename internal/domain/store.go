package domain

import (
	"context"
	"time"
)

// Store is the durable keyed store for aggregates, insights, fallback rule
// configurations and dead-letter records.
type Store interface {
	// Aggregate operations. PutAggregate enforces optimistic concurrency:
	// expectedVersion is the version read (0 for a new record); a mismatch
	// returns ErrVersionConflict and the caller re-reads and re-applies.
	GetAggregate(ctx context.Context, key EntityKey) (*AggregateRecord, error)
	PutAggregate(ctx context.Context, rec *AggregateRecord, expectedVersion int64) error

	// Insight operations. Insights are immutable once written.
	SaveInsight(ctx context.Context, insight *Insight) error
	GetInsight(ctx context.Context, id string) (*Insight, error)
	ListInsightsByEntity(ctx context.Context, key EntityKey, limit int) ([]*Insight, error)

	// Fallback rule configuration operations.
	SaveFallbackRule(ctx context.Context, rule *FallbackRule) error
	GetFallbackRule(ctx context.Context, ruleID string) (*FallbackRule, error)
	ListFallbackRules(ctx context.Context) ([]*FallbackRule, error)
	DeleteFallbackRule(ctx context.Context, ruleID string) error

	// Dead-letter records form the structured failure log keyed by event
	// identity: nothing terminal is silently dropped.
	SaveDeadLetter(ctx context.Context, dl *DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DeadLetter is a terminally failed event or alert envelope.
// Dead-letter kinds.
const (
	DeadLetterEvent = "event"
	DeadLetterAlert = "alert"
)

type DeadLetter struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // DeadLetterEvent or DeadLetterAlert
	RefID     string    `json:"refId"`
	Payload   []byte    `json:"payload"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
}

// FallbackRule configures one deterministic threshold rule for the fallback
// inference tier.
type FallbackRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// EntityType scopes the rule; empty means all entity types.
	EntityType EntityType `json:"entityType,omitempty"`

	// Expression is a CEL expression over the feature schema names, returning
	// bool (triggered or not).
	Expression string `json:"expression"`

	// Weight of this rule in the aggregated fallback risk score.
	Weight float64 `json:"weight"`

	// Reason is emitted into the insight explanation when the rule triggers.
	Reason string `json:"reason"`

	// Recommendation is emitted into the insight recommendations when the
	// rule triggers.
	Recommendation string `json:"recommendation,omitempty"`

	Enabled bool `json:"enabled"`
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
