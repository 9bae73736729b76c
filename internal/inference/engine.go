// Package inference implements the tiered insight engine: a primary
// prediction model, a secondary generative model, and a rule-based fallback
// that never depends on an external provider.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/retry"
)

// Tier produces a partial insight (risk, explanation, recommendations,
// confidence, segment) from a feature vector. The engine fills in identity
// fields and normalizes the result.
type Tier interface {
	Source() domain.InsightSource
	ModelID() string
	Infer(ctx context.Context, fv *domain.FeatureVector) (*domain.Insight, error)
}

type tierEntry struct {
	tier    Tier
	retry   domain.RetryConfig
	timeout time.Duration
}

// Engine tries tiers in fixed priority order. A tier is abandoned for the
// current event after a permanent provider error, or after its retry budget
// is exhausted on transient ones. The last tier is expected to be the rule
// fallback, which always succeeds, so a fully degraded stack still yields an
// insight.
type Engine struct {
	tiers []tierEntry
	log   *slog.Logger
	now   func() time.Time
}

// NewEngine builds an engine from the configured tiers, in the order given.
func NewEngine(log *slog.Logger, tiers ...ConfiguredTier) *Engine {
	e := &Engine{
		log: log,
		now: time.Now,
	}
	for _, t := range tiers {
		e.tiers = append(e.tiers, tierEntry{tier: t.Tier, retry: t.Retry, timeout: t.Timeout})
	}
	return e
}

// ConfiguredTier pairs a tier with its retry policy and per-attempt timeout.
type ConfiguredTier struct {
	Tier    Tier
	Retry   domain.RetryConfig
	Timeout time.Duration
}

// Infer produces one normalized insight for the event. The returned insight
// carries the tier that produced it in Source and ModelID.
func (e *Engine) Infer(ctx context.Context, key domain.EntityKey, eventID string, fv *domain.FeatureVector) (*domain.Insight, error) {
	var lastErr error

	for _, entry := range e.tiers {
		insight, err := e.inferTier(ctx, entry, fv)
		if err != nil {
			lastErr = err
			e.log.Warn("inference tier failed, degrading",
				"tier", entry.tier.Source(),
				"model_id", entry.tier.ModelID(),
				"entity", key.String(),
				"error", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		e.normalize(insight, entry.tier, key, eventID)
		return insight, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no inference tiers configured")
	}
	return nil, fmt.Errorf("all inference tiers failed: %w", lastErr)
}

func (e *Engine) inferTier(ctx context.Context, entry tierEntry, fv *domain.FeatureVector) (*domain.Insight, error) {
	var insight *domain.Insight

	err := retry.Do(ctx, entry.retry, domain.IsTransientProviderError, func(ctx context.Context) error {
		attemptCtx := ctx
		if entry.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, entry.timeout)
			defer cancel()
		}

		out, err := entry.tier.Infer(attemptCtx, fv)
		if err != nil {
			return err
		}
		insight = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return insight, nil
}

// normalize stamps identity fields and clamps the risk score onto the
// canonical 0-100 scale.
func (e *Engine) normalize(insight *domain.Insight, tier Tier, key domain.EntityKey, eventID string) {
	now := e.now().UTC()

	insight.ID = uuid.NewString()
	insight.EntityID = key.ID
	insight.EntityType = key.Type
	insight.EventID = eventID
	insight.Timestamp = now
	insight.RiskScore = clampRisk(insight.RiskScore)
	insight.Source = tier.Source()
	insight.ModelID = tier.ModelID()
	insight.ExpiresAt = now.Add(domain.InsightTTL)

	if len(insight.Recommendations) > maxRecommendations {
		insight.Recommendations = insight.Recommendations[:maxRecommendations]
	}
}

// maxRecommendations caps the recommendation list on every insight.
const maxRecommendations = 5

func clampRisk(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
