package inference

import (
	"context"
	"strings"

	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/rules"
)

// FallbackTier scores entities with the CEL rule engine. It performs no I/O
// and never fails, so an insight is produced even when both hosted models
// are unreachable.
type FallbackTier struct {
	engine  *rules.Engine
	modelID string
}

// NewFallbackTier creates the rule-based tier.
func NewFallbackTier(engine *rules.Engine, modelID string) *FallbackTier {
	return &FallbackTier{engine: engine, modelID: modelID}
}

func (t *FallbackTier) Source() domain.InsightSource { return domain.SourceFallback }
func (t *FallbackTier) ModelID() string              { return t.modelID }

// Infer sums the weights of triggered rules, clamped to the canonical scale.
// Activations arrive in rule-ID order, so explanations and recommendations
// are stable across repeated evaluations of the same vector.
func (t *FallbackTier) Infer(_ context.Context, fv *domain.FeatureVector) (*domain.Insight, error) {
	activations := t.engine.Evaluate(fv)

	var risk float64
	var reasons []string
	var recs []string
	for _, a := range activations {
		if a.Err != nil || !a.Triggered {
			continue
		}
		risk += a.Weight
		if a.Reason != "" {
			reasons = append(reasons, a.Reason)
		}
		if a.Recommendation != "" && len(recs) < maxRecommendations {
			recs = append(recs, a.Recommendation)
		}
	}

	explanation := "No risk indicators triggered."
	if len(reasons) > 0 {
		explanation = "Triggered indicators: " + strings.Join(reasons, "; ") + "."
	}

	return &domain.Insight{
		RiskScore:       clampRisk(risk),
		Explanation:     explanation,
		Recommendations: recs,
		Confidence:      0.5,
	}, nil
}
