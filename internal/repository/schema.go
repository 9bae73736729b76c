package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaAggregates = `
CREATE TABLE IF NOT EXISTS aggregates (
    entity_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    version BIGINT NOT NULL,
    latest_ts TIMESTAMP NOT NULL,
    last_event_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    record TEXT NOT NULL,
    PRIMARY KEY (entity_id, entity_type)
);

CREATE INDEX IF NOT EXISTS idx_aggregates_type ON aggregates(entity_type);
CREATE INDEX IF NOT EXISTS idx_aggregates_updated ON aggregates(updated_at);
`

const schemaInsights = `
CREATE TABLE IF NOT EXISTS insights (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    event_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    risk_score REAL NOT NULL,
    explanation TEXT NOT NULL,
    recommendations TEXT NOT NULL,
    source TEXT NOT NULL,
    model_id TEXT NOT NULL,
    confidence REAL NOT NULL,
    segment TEXT,
    severity TEXT,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_entity ON insights(entity_type, entity_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_insights_expires ON insights(expires_at);
`

const schemaFallbackRules = `
CREATE TABLE IF NOT EXISTS fallback_rules (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    entity_type TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    reason TEXT NOT NULL,
    recommendation TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_fallback_rules_enabled ON fallback_rules(enabled);
CREATE INDEX IF NOT EXISTS idx_fallback_rules_entity ON fallback_rules(entity_type);
`

const schemaDeadLetters = `
CREATE TABLE IF NOT EXISTS dead_letters (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    ref_id TEXT NOT NULL,
    payload BLOB,
    reason TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dead_letters_kind ON dead_letters(kind);
CREATE INDEX IF NOT EXISTS idx_dead_letters_created ON dead_letters(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAggregates,
		schemaInsights,
		schemaFallbackRules,
		schemaDeadLetters,
	}
}
