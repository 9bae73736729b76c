package domain

import (
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings (operational API)
	Server ServerConfig `json:"server"`

	// Tier determines default infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Store  StoreConfig  `json:"store"`
	Cache  CacheConfig  `json:"cache"`
	Bus    BusConfig    `json:"bus"`
	Stream StreamConfig `json:"stream"`

	// Pipeline behavior
	Pipeline  PipelineConfig  `json:"pipeline"`
	Inference InferenceConfig `json:"inference"`
	Severity  SeverityConfig  `json:"severity"`
	Alert     AlertConfig     `json:"alert"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings for the operational API.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// PipelineConfig holds batch consumer settings.
type PipelineConfig struct {
	// MaxBatch bounds the number of events pulled per batch.
	MaxBatch int `json:"maxBatch"`

	// MaxWait bounds how long a pull waits for the first event.
	MaxWait time.Duration `json:"maxWait"`

	// Workers is the number of concurrent pull loops. Each worker owns one
	// batch at a time; partitioning keeps per-entity ordering.
	Workers int `json:"workers"`

	// EventRetry bounds per-event retries for transient store failures
	// before an event is dead-lettered.
	EventRetry RetryConfig `json:"eventRetry"`
}

// RetryConfig is a bounded exponential backoff policy: base delay doubles per
// attempt, capped at MaxDelay.
type RetryConfig struct {
	MaxAttempts int           `json:"maxAttempts"`
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay"`
}

// TierConfig configures one inference tier.
type TierConfig struct {
	Enabled  bool          `json:"enabled"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"-"`
	ModelID  string        `json:"modelId"`
	Timeout  time.Duration `json:"timeout"`
	Retry    RetryConfig   `json:"retry"`
}

// InferenceConfig configures the tiered inference engine. Tiers are tried in
// fixed priority order: primary, secondary, fallback. The fallback tier has
// no endpoint; it is a pure function of rule thresholds and always succeeds.
type InferenceConfig struct {
	Primary   TierConfig `json:"primary"`
	Secondary TierConfig `json:"secondary"`

	// FallbackModelID labels insights produced by the rule tier.
	FallbackModelID string `json:"fallbackModelId"`
}

// SeverityThresholds are the per-entity-type classification boundaries.
// Lower bounds are inclusive: risk >= Critical means critical, risk >=
// Warning means warning, anything lower is info.
type SeverityThresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// SeverityConfig maps entity types to their thresholds.
type SeverityConfig struct {
	Thresholds map[EntityType]SeverityThresholds `json:"thresholds"`
}

// AlertConfig configures alert channel delivery.
type AlertConfig struct {
	// Retry bounds publish retries before an envelope is dead-lettered.
	Retry RetryConfig `json:"retry"`

	// MinSeverity suppresses dispatch below this severity. Empty means every
	// insight is routed.
	MinSeverity Severity `json:"minSeverity,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process stream and bus.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Kafka + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultSeverityConfig returns the per-entity-type thresholds used when no
// configuration is supplied.
func DefaultSeverityConfig() SeverityConfig {
	return SeverityConfig{
		Thresholds: map[EntityType]SeverityThresholds{
			EntityStudent: {Warning: 50, Critical: 80},
			EntityTutor:   {Warning: 55, Critical: 85},
			EntitySubject: {Warning: 60, Critical: 90},
		},
	}
}

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		Bus: BusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Stream: StreamConfig{
			Type:             "memory",
			MemoryBufferSize: 10000,
		},
		Pipeline: PipelineConfig{
			MaxBatch: 100,
			MaxWait:  2 * time.Second,
			Workers:  1,
			EventRetry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
		},
		Inference: InferenceConfig{
			Primary: TierConfig{
				ModelID: "marketplace-health-v1",
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts: 2,
					BaseDelay:   200 * time.Millisecond,
					MaxDelay:    2 * time.Second,
				},
			},
			Secondary: TierConfig{
				ModelID: "general-insight-v1",
				Timeout: 30 * time.Second,
				Retry: RetryConfig{
					MaxAttempts: 2,
					BaseDelay:   500 * time.Millisecond,
					MaxDelay:    5 * time.Second,
				},
			},
			FallbackModelID: "threshold-rules-v1",
		},
		Severity: DefaultSeverityConfig(),
		Alert: AlertConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.Bus = BusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Stream = StreamConfig{
		Type:         "kafka",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "kestrel.events",
		KafkaVersion: "3.6.0",
	}
	cfg.Pipeline.Workers = 4
	cfg.Tracing.Enabled = true
	return cfg
}
