// Package alert routes classified insights onto their severity channel, with
// bounded retries and a dead-letter path for undeliverable alerts.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/metrics"
	"github.com/opensource-marketplace/kestrel/internal/retry"
)

// Router dispatches alert envelopes. Delivery failures never propagate to the
// pipeline: an undeliverable envelope is dead-lettered and the event it came
// from still counts as processed.
type Router struct {
	bus   domain.AlertBus
	store domain.Store
	cfg   domain.AlertConfig
	log   *slog.Logger
	now   func() time.Time
}

// NewRouter creates an alert router.
func NewRouter(bus domain.AlertBus, store domain.Store, cfg domain.AlertConfig, log *slog.Logger) *Router {
	return &Router{
		bus:   bus,
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Route wraps the insight in an envelope and publishes it to the channel for
// its severity. Exactly one channel receives it. Returns the envelope in its
// terminal state; the error reflects dead-letter bookkeeping, not delivery.
func (r *Router) Route(ctx context.Context, insight *domain.Insight, severity domain.Severity) (*domain.AlertEnvelope, error) {
	if r.suppressed(severity) {
		r.log.Debug("alert below minimum severity, suppressed",
			"insight_id", insight.ID,
			"severity", severity)
		return nil, nil
	}

	insight.Severity = severity
	env := &domain.AlertEnvelope{
		ID:        uuid.NewString(),
		InsightID: insight.ID,
		Severity:  severity,
		Channel:   domain.ChannelForSeverity(severity),
		CreatedAt: r.now().UTC(),
		Insight:   insight,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return env, r.deadLetter(ctx, env, fmt.Errorf("encoding envelope: %w", err))
	}

	deliverErr := retry.Do(ctx, r.cfg.Retry, nil, func(ctx context.Context) error {
		env.AttemptCount++
		if err := r.bus.Publish(ctx, env.Channel, payload); err != nil {
			return &domain.DeliveryError{Channel: env.Channel, Err: err}
		}
		return nil
	})
	if deliverErr != nil {
		return env, r.deadLetter(ctx, env, deliverErr)
	}

	metrics.AlertsRouted.WithLabelValues(string(env.Severity)).Inc()
	r.log.Info("alert routed",
		"envelope_id", env.ID,
		"insight_id", env.InsightID,
		"severity", env.Severity,
		"channel", env.Channel,
		"attempts", env.AttemptCount)
	return env, nil
}

func (r *Router) suppressed(severity domain.Severity) bool {
	min := r.cfg.MinSeverity
	if min == "" {
		return false
	}
	return severityRank(severity) < severityRank(min)
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 2
	case domain.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// deadLetter persists the failed envelope and announces it on the dead-letter
// topic. Both writes are best effort: a structured log line always records
// the failure so nothing disappears silently.
func (r *Router) deadLetter(ctx context.Context, env *domain.AlertEnvelope, cause error) error {
	metrics.AlertsDeadLettered.Inc()
	r.log.Error("alert delivery failed, dead-lettering",
		"envelope_id", env.ID,
		"insight_id", env.InsightID,
		"channel", env.Channel,
		"attempts", env.AttemptCount,
		"error", cause)

	payload, err := json.Marshal(env)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"envelopeId":%q}`, env.ID))
	}

	dl := &domain.DeadLetter{
		ID:        uuid.NewString(),
		Kind:      domain.DeadLetterAlert,
		RefID:     env.ID,
		Payload:   payload,
		Reason:    cause.Error(),
		Attempts:  env.AttemptCount,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.SaveDeadLetter(ctx, dl); err != nil {
		return fmt.Errorf("saving dead letter for envelope %s: %w", env.ID, err)
	}

	if err := r.bus.Publish(ctx, domain.TopicDeadLetter, payload); err != nil {
		r.log.Warn("dead-letter topic publish failed",
			"envelope_id", env.ID,
			"error", err)
	}

	return nil
}
