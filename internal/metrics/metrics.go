// Package metrics exposes Prometheus collectors for the insight pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts events that reached a terminal processed state.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "events_processed_total",
		Help:      "Events fully processed, by event type.",
	}, []string{"event_type"})

	// EventsRejected counts validator rejections.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "events_rejected_total",
		Help:      "Events rejected by the validator, by rejection code.",
	}, []string{"code"})

	// EventsDeadLettered counts events parked after exhausted retries.
	EventsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "events_dead_lettered_total",
		Help:      "Events dead-lettered after exhausting their retry budget.",
	})

	// InferenceTierUsed counts insights per producing tier. Fallback share
	// rising is the first sign of provider degradation.
	InferenceTierUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "inference_tier_used_total",
		Help:      "Insights produced, by inference tier.",
	}, []string{"tier"})

	// InferenceDuration observes end-to-end inference latency per tier.
	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "inference_duration_seconds",
		Help:      "Inference latency by producing tier.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tier"})

	// RiskScore observes produced risk scores per entity type. The moving
	// average stands in for the original dashboard's churn tracking.
	RiskScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "insight_risk_score",
		Help:      "Risk scores of produced insights, by entity type.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}, []string{"entity_type"})

	// AlertsRouted counts delivered alerts by severity channel.
	AlertsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "alerts_routed_total",
		Help:      "Alerts delivered to a severity channel.",
	}, []string{"severity"})

	// AlertsDeadLettered counts undeliverable alerts.
	AlertsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "alerts_dead_lettered_total",
		Help:      "Alerts dead-lettered after delivery retries failed.",
	})

	// BatchDuration observes wall time per processed batch.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "batch_duration_seconds",
		Help:      "Wall time spent processing one pulled batch.",
		Buckets:   prometheus.DefBuckets,
	})

	// BatchSize observes the number of records per pulled batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "batch_size_records",
		Help:      "Records per pulled batch.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	// VersionConflicts counts optimistic-lock retries on aggregate writes.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "aggregate_version_conflicts_total",
		Help:      "Aggregate writes retried after losing an optimistic-concurrency race.",
	})
)
