// Package pipeline drives raw events through validation, aggregation,
// feature engineering, inference, classification and alert routing, with
// bisect-on-error isolation for partial batch failures.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-marketplace/kestrel/internal/aggregate"
	"github.com/opensource-marketplace/kestrel/internal/alert"
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/feature"
	"github.com/opensource-marketplace/kestrel/internal/inference"
	"github.com/opensource-marketplace/kestrel/internal/metrics"
	"github.com/opensource-marketplace/kestrel/internal/retry"
	"github.com/opensource-marketplace/kestrel/internal/severity"
	"github.com/opensource-marketplace/kestrel/internal/validator"
)

// aggregateCacheTTL bounds how long an aggregate stays cached between writes.
const aggregateCacheTTL = 5 * time.Minute

// BatchResult summarizes the terminal state of one processed batch. Every
// input event lands in exactly one bucket.
type BatchResult struct {
	Processed int `json:"processed"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

func (r *BatchResult) merge(other BatchResult) {
	r.Processed += other.Processed
	r.Rejected += other.Rejected
	r.Failed += other.Failed
}

// Deps collects the orchestrator's collaborators. Cache is optional; when
// nil every aggregate read goes to the store.
type Deps struct {
	Validator  *validator.Validator
	Aggregator *aggregate.Aggregator
	Engineer   *feature.Engineer
	Inference  *inference.Engine
	Classifier *severity.Classifier
	Router     *alert.Router
	Store      domain.Store
	Cache      domain.Cache
	Bus        domain.AlertBus
	Config     domain.PipelineConfig
	Log        *slog.Logger
}

// Orchestrator runs the per-event pipeline over pulled batches. It owns no
// mutable state of its own: all shared state lives behind the store, so many
// orchestrator instances can run against partitioned input.
type Orchestrator struct {
	validate *validator.Validator
	agg      *aggregate.Aggregator
	engineer *feature.Engineer
	infer    *inference.Engine
	classify *severity.Classifier
	router   *alert.Router
	store    domain.Store
	cache    domain.Cache
	bus      domain.AlertBus
	cfg      domain.PipelineConfig
	log      *slog.Logger
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		validate: deps.Validator,
		agg:      deps.Aggregator,
		engineer: deps.Engineer,
		infer:    deps.Inference,
		classify: deps.Classifier,
		router:   deps.Router,
		store:    deps.Store,
		cache:    deps.Cache,
		bus:      deps.Bus,
		cfg:      deps.Config,
		log:      log,
	}
}

// ProcessBatch drives every event in the batch to a terminal state:
// processed, rejected or dead-lettered. Infrastructure failures never fail
// the whole batch; the failing sub-range is isolated and retried on its own.
func (o *Orchestrator) ProcessBatch(ctx context.Context, events []domain.RawEvent) BatchResult {
	start := time.Now()
	res := o.processRange(ctx, events)
	metrics.BatchSize.Observe(float64(len(events)))
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	return res
}

// processRange walks the events in arrival order. On an infrastructure error
// the remaining sub-range is bisected and each half reprocessed, halving down
// to the single failing event, which gets its own retry budget and then the
// dead-letter path. Reprocessing is safe because aggregate application is
// idempotent and nothing after the failing step ran.
func (o *Orchestrator) processRange(ctx context.Context, events []domain.RawEvent) BatchResult {
	var res BatchResult
	for i := range events {
		if ctx.Err() != nil {
			return res
		}

		out, err := o.processEvent(ctx, &events[i])
		if err == nil {
			res.count(out)
			continue
		}
		if ctx.Err() != nil {
			return res
		}

		rest := events[i:]
		if len(rest) == 1 {
			res.count(o.resolveSingle(ctx, &rest[0]))
			return res
		}

		o.log.Warn("batch event failed, bisecting remainder",
			"index", i,
			"remaining", len(rest),
			"error", err)
		mid := len(rest) / 2
		res.merge(o.processRange(ctx, rest[:mid]))
		res.merge(o.processRange(ctx, rest[mid:]))
		return res
	}
	return res
}

// resolveSingle retries one failing event within the per-event budget and
// dead-letters it on exhaustion.
func (o *Orchestrator) resolveSingle(ctx context.Context, raw *domain.RawEvent) eventOutcome {
	var out eventOutcome
	err := retry.Do(ctx, o.cfg.EventRetry, nil, func(ctx context.Context) error {
		var attemptErr error
		out, attemptErr = o.processEvent(ctx, raw)
		return attemptErr
	})
	if err != nil {
		o.deadLetterEvent(ctx, raw, err)
		return outcomeFailed
	}
	return out
}

type eventOutcome int

const (
	outcomeProcessed eventOutcome = iota
	outcomeRejected
	outcomeFailed
)

func (r *BatchResult) count(out eventOutcome) {
	switch out {
	case outcomeRejected:
		r.Rejected++
	case outcomeFailed:
		r.Failed++
	default:
		r.Processed++
	}
}

// processEvent runs the full per-event pipeline. A nil error means the event
// reached a terminal state (processed or rejected); a non-nil error means an
// infrastructure failure left it pending and it may be retried.
func (o *Orchestrator) processEvent(ctx context.Context, raw *domain.RawEvent) (eventOutcome, error) {
	ev, rej := o.validate.Validate(raw)
	if rej != nil {
		o.reportRejection(ctx, raw, rej)
		return outcomeRejected, nil
	}

	// A session event also credits the counterparty tutor; the primary
	// entity comes first and is the one inference runs against.
	var primary *domain.AggregateRecord
	for i, key := range ev.Targets() {
		rec, err := o.applyToEntity(ctx, key, ev)
		if err != nil {
			return outcomeFailed, fmt.Errorf("updating aggregate %s: %w", key.String(), err)
		}
		if i == 0 {
			primary = rec
		}
	}

	fv := o.engineer.Engineer(primary)

	inferStart := time.Now()
	insight, err := o.infer.Infer(ctx, ev.Primary(), ev.ID, fv)
	if err != nil {
		return outcomeFailed, fmt.Errorf("inference for event %s: %w", ev.ID, err)
	}
	metrics.InferenceTierUsed.WithLabelValues(string(insight.Source)).Inc()
	metrics.InferenceDuration.WithLabelValues(string(insight.Source)).Observe(time.Since(inferStart).Seconds())
	metrics.RiskScore.WithLabelValues(string(insight.EntityType)).Observe(insight.RiskScore)

	// Classify before persisting so the stored insight carries its severity.
	sev := o.classify.Classify(insight.EntityType, insight.RiskScore)
	insight.Severity = sev

	if err := o.store.SaveInsight(ctx, insight); err != nil {
		return outcomeFailed, fmt.Errorf("saving insight for event %s: %w", ev.ID, err)
	}
	o.publishInsight(ctx, insight)

	if _, err := o.router.Route(ctx, insight, sev); err != nil {
		// Delivery failures are terminal inside the router; this error is
		// dead-letter bookkeeping and must not fail the event.
		o.log.Warn("alert dead-letter bookkeeping failed",
			"insight_id", insight.ID,
			"error", err)
	}

	metrics.EventsProcessed.WithLabelValues(string(ev.Type)).Inc()
	return outcomeProcessed, nil
}

// applyToEntity performs the read-apply-write cycle for one target entity
// under optimistic concurrency. Losing the version race triggers a re-read
// from the store and a fresh apply, within the per-event retry budget.
func (o *Orchestrator) applyToEntity(ctx context.Context, key domain.EntityKey, ev *domain.ValidatedEvent) (*domain.AggregateRecord, error) {
	attempts := o.cfg.EventRetry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	useCache := true
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retry.Delay(o.cfg.EventRetry, attempt-1)):
			}
		}

		current, err := o.loadAggregate(ctx, key, useCache)
		if err != nil {
			return nil, err
		}
		var expected int64
		if current != nil {
			expected = current.Version
		}

		next, err := o.agg.Apply(key, ev, current)
		if err != nil {
			return nil, err
		}
		if next == current {
			// Duplicate delivery: the record already absorbed this event.
			return next, nil
		}

		err = o.store.PutAggregate(ctx, next, expected)
		if err == nil {
			o.cacheAggregate(ctx, next)
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}

		metrics.VersionConflicts.Inc()
		lastErr = err
		useCache = false
		o.invalidateAggregate(ctx, key)
	}
	return nil, lastErr
}

func (o *Orchestrator) loadAggregate(ctx context.Context, key domain.EntityKey, useCache bool) (*domain.AggregateRecord, error) {
	if useCache && o.cache != nil {
		if rec, err := o.cache.GetAggregate(ctx, key); err == nil && rec != nil {
			return rec, nil
		}
	}
	rec, err := o.store.GetAggregate(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (o *Orchestrator) cacheAggregate(ctx context.Context, rec *domain.AggregateRecord) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetAggregate(ctx, rec, aggregateCacheTTL); err != nil {
		o.log.Debug("aggregate cache write failed",
			"entity", rec.Key().String(),
			"error", err)
	}
}

func (o *Orchestrator) invalidateAggregate(ctx context.Context, key domain.EntityKey) {
	if o.cache == nil {
		return
	}
	if err := o.cache.InvalidateAggregate(ctx, key); err != nil {
		o.log.Debug("aggregate cache invalidation failed",
			"entity", key.String(),
			"error", err)
	}
}

// publishInsight announces a persisted insight on the insight feed. Fire and
// forget: the store write is the durable record, the feed is advisory.
func (o *Orchestrator) publishInsight(ctx context.Context, insight *domain.Insight) {
	payload, err := json.Marshal(insight)
	if err != nil {
		o.log.Warn("encoding insight feed message failed",
			"insight_id", insight.ID,
			"error", err)
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicInsight, payload); err != nil {
		o.log.Warn("insight feed publish failed",
			"insight_id", insight.ID,
			"error", err)
	}
}

// reportRejection publishes the rejected event to the data-quality channel.
// Fire and forget: a publish failure is logged, never propagated.
func (o *Orchestrator) reportRejection(ctx context.Context, raw *domain.RawEvent, rej *domain.RejectionReason) {
	metrics.EventsRejected.WithLabelValues(rej.Code).Inc()

	report := domain.DataQualityReport{
		Event:  *raw,
		Code:   rej.Code,
		Field:  rej.Field,
		Reason: rej.Error(),
	}
	payload, err := json.Marshal(report)
	if err != nil {
		o.log.Warn("encoding data-quality report failed",
			"source_id", raw.SourceID,
			"error", err)
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicDataQuality, payload); err != nil {
		o.log.Warn("data-quality publish failed",
			"source_id", raw.SourceID,
			"code", rej.Code,
			"error", err)
	}

	o.log.Info("event rejected",
		"source_id", raw.SourceID,
		"event_type", raw.EventType,
		"code", rej.Code,
		"field", rej.Field)
}

// deadLetterEvent parks an event that exhausted its retry budget. The store
// write is the durable record; the bus publish and the log line make the
// failure visible even if one of them is down.
func (o *Orchestrator) deadLetterEvent(ctx context.Context, raw *domain.RawEvent, cause error) {
	metrics.EventsDeadLettered.Inc()

	payload, err := json.Marshal(raw)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"sourceId":%q}`, raw.SourceID))
	}
	dl := &domain.DeadLetter{
		ID:        uuid.NewString(),
		Kind:      domain.DeadLetterEvent,
		RefID:     raw.SourceID,
		Payload:   payload,
		Reason:    cause.Error(),
		Attempts:  o.cfg.EventRetry.MaxAttempts,
		CreatedAt: time.Now().UTC(),
	}

	o.log.Error("event dead-lettered",
		"source_id", raw.SourceID,
		"event_type", raw.EventType,
		"attempts", dl.Attempts,
		"error", cause)

	if err := o.store.SaveDeadLetter(ctx, dl); err != nil {
		o.log.Error("dead-letter store write failed",
			"source_id", raw.SourceID,
			"error", err)
	}
	if err := o.bus.Publish(ctx, domain.TopicDeadLetter, payload); err != nil {
		o.log.Warn("dead-letter publish failed",
			"source_id", raw.SourceID,
			"error", err)
	}
}
