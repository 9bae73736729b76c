package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensource-marketplace/kestrel/internal/domain"
)

// SecondaryTier calls a hosted generative model and extracts a structured
// insight from its text completion. It is engaged only after the primary
// tier has been abandoned for the current event.
type SecondaryTier struct {
	endpoint string
	apiKey   string
	modelID  string
	client   *http.Client
}

// NewSecondaryTier creates the secondary tier from its configuration.
func NewSecondaryTier(cfg domain.TierConfig) *SecondaryTier {
	return &SecondaryTier{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		modelID:  cfg.ModelID,
		client:   &http.Client{},
	}
}

func (t *SecondaryTier) Source() domain.InsightSource { return domain.SourceSecondary }
func (t *SecondaryTier) ModelID() string              { return t.modelID }

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type completionResponse struct {
	Text string `json:"text"`
}

// generatedInsight is the JSON object the model is prompted to emit.
type generatedInsight struct {
	RiskScore       float64  `json:"risk_score"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations"`
}

// Infer prompts the model with the feature vector and parses the JSON object
// embedded in its completion.
func (t *SecondaryTier) Infer(ctx context.Context, fv *domain.FeatureVector) (*domain.Insight, error) {
	payload, err := json.Marshal(completionRequest{
		Model:     t.modelID,
		Prompt:    buildPrompt(fv),
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, domain.NewPermanentProviderError("secondary", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewPermanentProviderError("secondary", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientProviderError("secondary", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("secondary", resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewPermanentProviderError("secondary", fmt.Errorf("decoding response: %w", err))
	}

	parsed, err := extractInsightJSON(out.Text)
	if err != nil {
		return nil, domain.NewPermanentProviderError("secondary", err)
	}

	return &domain.Insight{
		RiskScore:       parsed.RiskScore,
		Explanation:     parsed.Explanation,
		Recommendations: parsed.Recommendations,
		Confidence:      0.7,
	}, nil
}

// buildPrompt renders the vector into a deterministic prompt: features in
// schema order, fixed instruction text, no timestamps.
func buildPrompt(fv *domain.FeatureVector) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a marketplace health analyst. Assess the %s described by these metrics (schema %s):\n",
		fv.EntityType, fv.SchemaVersion)
	for i, name := range fv.Names {
		fmt.Fprintf(&b, "- %s: %g\n", name, fv.Values[i])
	}
	b.WriteString("\nRespond with a single JSON object and nothing else: ")
	b.WriteString(`{"risk_score": <0-100>, "explanation": "<one sentence>", "recommendations": ["<up to 5 actions>"]}`)
	return b.String()
}

// extractInsightJSON pulls the first balanced JSON object out of the model's
// completion text. Models often wrap the object in prose or code fences.
func extractInsightJSON(text string) (*generatedInsight, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var parsed generatedInsight
				if err := json.Unmarshal([]byte(text[start:i+1]), &parsed); err != nil {
					return nil, fmt.Errorf("parsing completion JSON: %w", err)
				}
				return &parsed, nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object in completion")
}
