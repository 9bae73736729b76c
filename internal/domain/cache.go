package domain

import (
	"context"
	"time"
)

// Cache is the fast-path layer in front of the durable store. Two uses:
// aggregate read caching (avoids a store round-trip for hot entities) and
// atomic windowed counters (distributed duplicate/velocity tracking).
// Supports two-phase caching: local LRU (community) + Redis (pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetAggregate retrieves a cached aggregate record.
	GetAggregate(ctx context.Context, key EntityKey) (*AggregateRecord, error)

	// SetAggregate caches an aggregate record.
	SetAggregate(ctx context.Context, rec *AggregateRecord, ttl time.Duration) error

	// InvalidateAggregate drops a cached aggregate after a store write.
	InvalidateAggregate(ctx context.Context, key EntityKey) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
