package domain

import (
	"context"
	"time"
)

// StreamRecord is one raw record pulled from the upstream event stream.
type StreamRecord struct {
	// ID is the stream-assigned identity (e.g. "partition/offset").
	ID string

	Partition string
	Offset    int64

	Data []byte
}

// EventStream is the upstream collaborator delivering ordered batches of raw
// events per partition. The orchestrator only pulls bounded batches and
// acknowledges terminal progress: offsets never advance for an event still
// pending retry, preserving at-least-once delivery.
type EventStream interface {
	// Pull returns up to maxBatch records, waiting at most maxWait for the
	// first one. An empty slice means the wait elapsed with nothing to do.
	Pull(ctx context.Context, maxBatch int, maxWait time.Duration) ([]StreamRecord, error)

	// Ack marks every record up to and including the given one as terminally
	// handled (processed or dead-lettered).
	Ack(ctx context.Context, upTo StreamRecord) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StreamConfig holds configuration for event stream initialization.
type StreamConfig struct {
	// Type is the stream type: "memory" or "kafka"
	Type string

	// Memory settings (community tier / tests)
	MemoryBufferSize int

	// Kafka settings (pro tier)
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	KafkaPartition int32
	KafkaVersion   string
}
