package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// Primary prediction vector layout, frozen per feature schema version.
const (
	predFirstSessionSuccess = iota
	predSessionVelocity
	predChurnRisk14d
	predChurnRisk30d
	predHealthScore
	predCount
)

// PrimaryTier calls the hosted prediction model. Features are sent as a CSV
// row in schema order; the model returns a fixed five-element prediction
// vector per row.
type PrimaryTier struct {
	endpoint string
	apiKey   string
	modelID  string
	client   *http.Client
}

// NewPrimaryTier creates the primary tier from its configuration. The HTTP
// client carries no timeout of its own; per-attempt deadlines come from the
// engine's context.
func NewPrimaryTier(cfg domain.TierConfig) *PrimaryTier {
	return &PrimaryTier{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		modelID:  cfg.ModelID,
		client:   &http.Client{},
	}
}

func (t *PrimaryTier) Source() domain.InsightSource { return domain.SourcePrimary }
func (t *PrimaryTier) ModelID() string              { return t.modelID }

type primaryResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// Infer invokes the prediction endpoint and maps its output onto the
// canonical risk scale.
func (t *PrimaryTier) Infer(ctx context.Context, fv *domain.FeatureVector) (*domain.Insight, error) {
	body := featuresCSV(fv)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentProviderError("primary", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Feature-Schema", fv.SchemaVersion)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientProviderError("primary", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("primary", resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var out primaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewPermanentProviderError("primary", fmt.Errorf("decoding response: %w", err))
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0]) != predCount {
		return nil, domain.NewPermanentProviderError("primary",
			fmt.Errorf("expected %d predictions, got %v", predCount, out.Predictions))
	}

	return insightFromPredictions(out.Predictions[0], fv), nil
}

// insightFromPredictions converts the model's raw prediction vector into a
// partial insight. Churn risks are probabilities in [0,1]; predicted health
// is on the 0-100 scale.
func insightFromPredictions(preds []float64, fv *domain.FeatureVector) *domain.Insight {
	churn14 := preds[predChurnRisk14d]
	churn30 := preds[predChurnRisk30d]
	health := preds[predHealthScore]

	risk := churn14 * 100
	if r := churn30 * 100; r > risk {
		risk = r
	}
	if r := 100 - health; r > risk {
		risk = r
	}

	return &domain.Insight{
		RiskScore:       risk,
		Segment:         segmentFor(churn14, churn30, health),
		Explanation:     primaryExplanation(churn14, churn30, health),
		Recommendations: primaryRecommendations(preds, fv),
		Confidence:      0.9,
	}
}

// segmentFor applies the marketplace segmentation thresholds.
func segmentFor(churn14, churn30, health float64) domain.Segment {
	switch {
	case churn14 > 0.7 || health < 40:
		return domain.SegmentChurned
	case churn14 > 0.4 || churn30 > 0.6 || health < 60:
		return domain.SegmentAtRisk
	case churn14 < 0.2 && health > 80:
		return domain.SegmentThriving
	default:
		return domain.SegmentHealthy
	}
}

func primaryExplanation(churn14, churn30, health float64) string {
	return fmt.Sprintf("Predicted churn risk %.0f%% (14d) / %.0f%% (30d), predicted health %.0f.",
		churn14*100, churn30*100, health)
}

func primaryRecommendations(preds []float64, fv *domain.FeatureVector) []string {
	var recs []string

	if preds[predFirstSessionSuccess] < 0.5 && fv.Get("sessions_30d") <= 1 {
		recs = append(recs, "Assign an onboarding specialist to the next session.")
	}
	if preds[predChurnRisk14d] > 0.5 {
		recs = append(recs, "Trigger the short-term retention playbook within 48 hours.")
	}
	if preds[predChurnRisk30d] > 0.5 {
		recs = append(recs, "Schedule a retention check-in this month.")
	}
	if preds[predSessionVelocity] < fv.Get("session_freq_30d") {
		recs = append(recs, "Suggest a recurring weekly booking to stabilize session cadence.")
	}
	if preds[predHealthScore] < 60 {
		recs = append(recs, "Review recent session outcomes with the account team.")
	}
	if fv.Get("error_rate") >= 0.05 {
		recs = append(recs, "Investigate elevated session failures.")
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// featuresCSV renders the vector as a single CSV row in schema order.
func featuresCSV(fv *domain.FeatureVector) string {
	fields := make([]string, len(fv.Values))
	for i, v := range fv.Values {
		fields[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(fields, ",")
}

// classifyStatus maps HTTP status codes onto provider error classes. Server
// errors and throttling are transient; other non-2xx responses are permanent.
func classifyStatus(provider string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewTransientProviderError(provider, fmt.Errorf("status %d", status))
	default:
		return domain.NewPermanentProviderError(provider, fmt.Errorf("status %d", status))
	}
}
