package domain

import (
	"context"
)

// AlertBus carries outbound pipeline traffic: severity channels, the
// dead-letter path, the data-quality side channel and the insight feed.
// Supports Go channels (community) or NATS (pro).
type AlertBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents a bus message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// BusConfig holds configuration for alert bus initialization.
type BusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (community tier)
	ChannelBufferSize int

	// NATS settings (pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the insight pipeline. Each severity maps to
// exactly one channel; an insight is never broadcast to more than one.
const (
	TopicAlertInfo     = "kestrel.alert.info"
	TopicAlertWarning  = "kestrel.alert.warning"
	TopicAlertCritical = "kestrel.alert.critical"
	TopicDeadLetter    = "kestrel.deadletter"
	TopicDataQuality   = "kestrel.dataquality"
	TopicInsight       = "kestrel.insight"
)

// ChannelForSeverity maps a severity to its logical alert channel.
func ChannelForSeverity(s Severity) string {
	switch s {
	case SeverityCritical:
		return TopicAlertCritical
	case SeverityWarning:
		return TopicAlertWarning
	default:
		return TopicAlertInfo
	}
}
