// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// GetAggregate retrieves an aggregate record by entity key.
func (s *SQLStore) GetAggregate(ctx context.Context, key domain.EntityKey) (*domain.AggregateRecord, error) {
	if key.ID == "" || key.Type == "" {
		return nil, fmt.Errorf("%w: entity key is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT record
		FROM aggregates
		WHERE entity_id = ? AND entity_type = ?
	`

	var record string
	err := s.db.QueryRowContext(ctx, s.rebind(query), key.ID, string(key.Type)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec domain.AggregateRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse aggregate %s: %w", key.String(), err)
	}
	return &rec, nil
}

// PutAggregate writes an aggregate with optimistic concurrency. The caller
// supplies the version it read (0 for a brand-new record); a mismatch means
// a concurrent writer won and the caller must re-read and re-apply.
func (s *SQLStore) PutAggregate(ctx context.Context, rec *domain.AggregateRecord, expectedVersion int64) error {
	if rec.EntityID == "" || rec.EntityType == "" {
		return fmt.Errorf("%w: entity key is required", domain.ErrInvalidInput)
	}

	rec.Version = expectedVersion + 1
	record, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		query := `
			INSERT INTO aggregates (
				entity_id, entity_type, version, latest_ts, last_event_at, updated_at, record
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := s.db.ExecContext(ctx, s.rebind(query),
			rec.EntityID, string(rec.EntityType), rec.Version,
			rec.LatestTS, rec.LastEventAt, rec.UpdatedAt, string(record),
		)
		if err != nil && isUniqueViolation(err) {
			rec.Version = expectedVersion
			return domain.ErrVersionConflict
		}
		return err
	}

	query := `
		UPDATE aggregates
		SET version = ?, latest_ts = ?, last_event_at = ?, updated_at = ?, record = ?
		WHERE entity_id = ? AND entity_type = ? AND version = ?
	`
	result, err := s.db.ExecContext(ctx, s.rebind(query),
		rec.Version, rec.LatestTS, rec.LastEventAt, rec.UpdatedAt, string(record),
		rec.EntityID, string(rec.EntityType), expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		rec.Version = expectedVersion
		return domain.ErrVersionConflict
	}
	return nil
}

// SaveInsight stores an insight. Insights are immutable once written.
func (s *SQLStore) SaveInsight(ctx context.Context, insight *domain.Insight) error {
	recommendations, _ := json.Marshal(insight.Recommendations)

	query := `
		INSERT INTO insights (
			id, entity_id, entity_type, event_id, timestamp,
			risk_score, explanation, recommendations,
			source, model_id, confidence, segment, severity, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		insight.ID, insight.EntityID, string(insight.EntityType),
		insight.EventID, insight.Timestamp,
		insight.RiskScore, insight.Explanation, string(recommendations),
		string(insight.Source), insight.ModelID, insight.Confidence,
		string(insight.Segment), string(insight.Severity), insight.ExpiresAt,
	)
	return err
}

// GetInsight retrieves an insight by ID.
func (s *SQLStore) GetInsight(ctx context.Context, id string) (*domain.Insight, error) {
	query := `
		SELECT id, entity_id, entity_type, event_id, timestamp,
			   risk_score, explanation, recommendations,
			   source, model_id, confidence, segment, severity, expires_at
		FROM insights
		WHERE id = ?
	`

	insight, err := s.scanInsight(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return insight, err
}

// ListInsightsByEntity retrieves the most recent unexpired insights for an
// entity, newest first.
func (s *SQLStore) ListInsightsByEntity(ctx context.Context, key domain.EntityKey, limit int) ([]*domain.Insight, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, entity_id, entity_type, event_id, timestamp,
			   risk_score, explanation, recommendations,
			   source, model_id, confidence, segment, severity, expires_at
		FROM insights
		WHERE entity_id = ? AND entity_type = ? AND expires_at > ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query),
		key.ID, string(key.Type), time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []*domain.Insight
	for rows.Next() {
		insight, err := s.scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanInsight(row rowScanner) (*domain.Insight, error) {
	var insight domain.Insight
	var recommendations string

	err := row.Scan(
		&insight.ID, &insight.EntityID, &insight.EntityType,
		&insight.EventID, &insight.Timestamp,
		&insight.RiskScore, &insight.Explanation, &recommendations,
		&insight.Source, &insight.ModelID, &insight.Confidence,
		&insight.Segment, &insight.Severity, &insight.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if recommendations != "" {
		json.Unmarshal([]byte(recommendations), &insight.Recommendations)
	}
	return &insight, nil
}

// SaveFallbackRule stores a fallback rule, upserting on (id, version).
func (s *SQLStore) SaveFallbackRule(ctx context.Context, rule *domain.FallbackRule) error {
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fallback_rules (
			id, name, description, version, entity_type, expression,
			weight, reason, recommendation, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			entity_type = excluded.entity_type,
			expression = excluded.expression,
			weight = excluded.weight,
			reason = excluded.reason,
			recommendation = excluded.recommendation,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		string(rule.EntityType), rule.Expression,
		rule.Weight, rule.Reason, rule.Recommendation, enabled,
		now, now,
	)
	return err
}

// GetFallbackRule retrieves the latest enabled version of a rule.
func (s *SQLStore) GetFallbackRule(ctx context.Context, ruleID string) (*domain.FallbackRule, error) {
	query := `
		SELECT id, name, description, version, entity_type, expression,
			   weight, reason, recommendation, enabled
		FROM fallback_rules
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.FallbackRule
	var enabled int

	err := s.db.QueryRowContext(ctx, s.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Version,
		&rule.EntityType, &rule.Expression,
		&rule.Weight, &rule.Reason, &rule.Recommendation, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListFallbackRules retrieves all enabled fallback rules.
func (s *SQLStore) ListFallbackRules(ctx context.Context) ([]*domain.FallbackRule, error) {
	query := `
		SELECT id, name, description, version, entity_type, expression,
			   weight, reason, recommendation, enabled
		FROM fallback_rules
		WHERE enabled = 1
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.FallbackRule
	for rows.Next() {
		var rule domain.FallbackRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Version,
			&rule.EntityType, &rule.Expression,
			&rule.Weight, &rule.Reason, &rule.Recommendation, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		configs = append(configs, &rule)
	}
	return configs, rows.Err()
}

// DeleteFallbackRule soft-deletes a rule by setting enabled = 0.
func (s *SQLStore) DeleteFallbackRule(ctx context.Context, ruleID string) error {
	query := `
		UPDATE fallback_rules
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, s.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveDeadLetter stores a dead-letter record.
func (s *SQLStore) SaveDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	query := `
		INSERT INTO dead_letters (
			id, kind, ref_id, payload, reason, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		dl.ID, dl.Kind, dl.RefID, dl.Payload, dl.Reason, dl.Attempts, dl.CreatedAt,
	)
	return err
}

// ListDeadLetters retrieves recent dead letters, newest first.
func (s *SQLStore) ListDeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, kind, ref_id, payload, reason, attempts, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []*domain.DeadLetter
	for rows.Next() {
		var dl domain.DeadLetter
		if err := rows.Scan(
			&dl.ID, &dl.Kind, &dl.RefID, &dl.Payload, &dl.Reason, &dl.Attempts, &dl.CreatedAt,
		); err != nil {
			return nil, err
		}
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation detects a primary-key conflict across both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
