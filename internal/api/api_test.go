package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/repository"
	"github.com/opensource-marketplace/kestrel/internal/rules"
)

// createTestServer creates a server backed by a temp sqlite store.
func createTestServer(t *testing.T) (*Server, domain.Store) {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	store, err := repository.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-api-test.db"),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	return NewServer(cfg, store, nil, nil, engine, "test-v1"), store
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doRequest(t, server, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("version = %q, want test-v1", resp["version"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doRequest(t, server, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doRequest(t, server, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}

func testInsight(id, entityID string) *domain.Insight {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Insight{
		ID:          id,
		EntityID:    entityID,
		EntityType:  domain.EntityStudent,
		EventID:     "evt-1",
		Timestamp:   now,
		RiskScore:   42,
		Explanation: "test insight",
		Source:      domain.SourceFallback,
		ModelID:     "threshold-rules-v1",
		Confidence:  0.5,
		ExpiresAt:   now.Add(domain.InsightTTL),
	}
}

func TestGetInsight(t *testing.T) {
	server, store := createTestServer(t)

	insight := testInsight("ins-1", "s1")
	if err := store.SaveInsight(context.Background(), insight); err != nil {
		t.Fatalf("SaveInsight: %v", err)
	}

	rr := doRequest(t, server, http.MethodGet, "/insights/ins-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got domain.Insight
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "ins-1" || got.RiskScore != 42 {
		t.Errorf("unexpected insight: %+v", got)
	}

	rr = doRequest(t, server, http.MethodGet, "/insights/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing insight, got %d", rr.Code)
	}
}

func TestGetEntity(t *testing.T) {
	server, store := createTestServer(t)
	ctx := context.Background()

	key := domain.EntityKey{ID: "s1", Type: domain.EntityStudent}
	rec := domain.NewAggregateRecord(key)
	rec.TotalSessions = 3
	if err := store.PutAggregate(ctx, rec, 0); err != nil {
		t.Fatalf("PutAggregate: %v", err)
	}
	if err := store.SaveInsight(ctx, testInsight("ins-1", "s1")); err != nil {
		t.Fatalf("SaveInsight: %v", err)
	}

	rr := doRequest(t, server, http.MethodGet, "/entities/student/s1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp EntityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Aggregate == nil || resp.Aggregate.TotalSessions != 3 {
		t.Errorf("unexpected aggregate: %+v", resp.Aggregate)
	}
	if len(resp.Insights) != 1 {
		t.Errorf("insights = %d, want 1", len(resp.Insights))
	}

	rr = doRequest(t, server, http.MethodGet, "/entities/widget/s1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown entity type, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/entities/student/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing entity, got %d", rr.Code)
	}
}

func TestFallbackRuleLifecycle(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("ListBuiltins", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/fallback-rules", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Count == 0 {
			t.Error("expected builtin rules to be loaded")
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		req := CreateRuleRequest{
			ID:         "custom-low-consistency",
			Name:       "Low Consistency",
			EntityType: domain.EntityStudent,
			Expression: "consistency_score < 0.3",
			Weight:     25,
			Reason:     "Session cadence is erratic",
			Enabled:    true,
		}
		rr := doRequest(t, server, http.MethodPost, "/fallback-rules", req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Not loaded until reload.
		rr = doRequest(t, server, http.MethodGet, "/fallback-rules/custom-low-consistency", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404 before reload, got %d", rr.Code)
		}

		rr = doRequest(t, server, http.MethodPost, "/fallback-rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 on reload, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/fallback-rules/custom-low-consistency", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 after reload, got %d", rr.Code)
		}
	})

	t.Run("RejectInvalidExpression", func(t *testing.T) {
		req := CreateRuleRequest{
			ID:         "bad-rule",
			Name:       "Bad Rule",
			Expression: "no_such_feature > 1.0",
			Weight:     10,
			Enabled:    true,
		}
		rr := doRequest(t, server, http.MethodPost, "/fallback-rules", req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectMissingFields", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/fallback-rules", CreateRuleRequest{ID: "x"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodDelete, "/fallback-rules/custom-low-consistency", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodDelete, "/fallback-rules/never-existed", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestListDeadLetters(t *testing.T) {
	server, store := createTestServer(t)

	dl := &domain.DeadLetter{
		ID:        "dl-1",
		Kind:      domain.DeadLetterEvent,
		RefID:     "part-0/7",
		Payload:   []byte(`{}`),
		Reason:    "store unavailable",
		Attempts:  3,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveDeadLetter(context.Background(), dl); err != nil {
		t.Fatalf("SaveDeadLetter: %v", err)
	}

	rr := doRequest(t, server, http.MethodGet, "/deadletters", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}

	rr = doRequest(t, server, http.MethodGet, "/deadletters?limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rr.Code)
	}
}
