package bus

import (
	"fmt"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// New creates an alert bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.BusConfig) (domain.AlertBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cfg.Type)
	}
}
