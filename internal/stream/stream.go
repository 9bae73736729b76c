// Package stream provides the upstream event stream implementations: an
// in-process channel stream for the community tier and tests, and a Kafka
// partition consumer for the pro tier.
package stream

import (
	"fmt"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// New creates an event stream from configuration.
func New(cfg domain.StreamConfig) (domain.EventStream, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStream(cfg.MemoryBufferSize), nil
	case "kafka":
		return NewKafkaStream(cfg)
	default:
		return nil, fmt.Errorf("unknown stream type: %s", cfg.Type)
	}
}
