package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store   domain.Store
	cache   domain.Cache
	bus     domain.AlertBus
	engine  *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(store domain.Store, cache domain.Cache, bus domain.AlertBus, engine *rules.Engine, version string) *Handler {
	return &Handler{
		store:   store,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check store health
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetInsight retrieves an insight by ID.
func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	insightID := chi.URLParam(r, "id")

	if insightID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "insight id is required",
		})
		return
	}

	insight, err := h.store.GetInsight(ctx, insightID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get insight", "id", insightID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "insight not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, insight)
}

// EntityResponse is the response for GET /entities/{type}/{id}.
type EntityResponse struct {
	Aggregate *domain.AggregateRecord `json:"aggregate"`
	Insights  []*domain.Insight       `json:"insights"`
}

// GetEntity retrieves an entity's aggregate and its recent insights.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := domain.EntityType(chi.URLParam(r, "type"))
	entityID := chi.URLParam(r, "id")

	if !domain.KnownEntityTypes[entityType] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown entity type",
		})
		return
	}
	if entityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity id is required",
		})
		return
	}

	key := domain.EntityKey{ID: entityID, Type: entityType}
	rec, err := h.store.GetAggregate(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get aggregate", "entity", key.String(), "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "entity not found",
		})
		return
	}

	insights, err := h.store.ListInsightsByEntity(ctx, key, 10)
	if err != nil {
		slog.Error("failed to list insights", "entity", key.String(), "error", err)
		insights = nil
	}

	writeJSON(w, http.StatusOK, EntityResponse{
		Aggregate: rec,
		Insights:  insights,
	})
}

// ListFallbackRules returns all rules loaded in the engine.
// Rules are loaded from the store at startup and can be reloaded via
// POST /fallback-rules/reload.
func (h *Handler) ListFallbackRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "store",
	})
}

// GetFallbackRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetFallbackRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a fallback rule.
type CreateRuleRequest struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	EntityType     domain.EntityType `json:"entityType,omitempty"`
	Expression     string            `json:"expression"`
	Weight         float64           `json:"weight"`
	Reason         string            `json:"reason"`
	Recommendation string            `json:"recommendation,omitempty"`
	Enabled        bool              `json:"enabled"`
}

// CreateFallbackRule validates and persists a new rule.
// After saving, call POST /fallback-rules/reload to hot-reload into the engine.
func (h *Handler) CreateFallbackRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be positive",
		})
		return
	}
	if req.EntityType != "" && !domain.KnownEntityTypes[req.EntityType] {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown entity type",
		})
		return
	}

	rule := &domain.FallbackRule{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		Version:        "1",
		EntityType:     req.EntityType,
		Expression:     req.Expression,
		Weight:         req.Weight,
		Reason:         req.Reason,
		Recommendation: req.Recommendation,
		Enabled:        req.Enabled,
	}

	// Validate the CEL expression before persisting
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if err := h.store.SaveFallbackRule(ctx, rule); err != nil {
		slog.Error("failed to save fallback rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("fallback rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /fallback-rules/reload to apply changes.",
	})
}

// DeleteFallbackRule disables a rule in the store.
func (h *Handler) DeleteFallbackRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.store.DeleteFallbackRule(ctx, ruleID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to delete fallback rule", "id", ruleID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	slog.Info("fallback rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted. Call POST /fallback-rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the store into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.store.ListFallbackRules(ctx)
	if err != nil {
		slog.Error("failed to list fallback rules from store", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from store",
		})
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("fallback rules reloaded from store", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}

// ListDeadLetters returns recent dead-letter records, newest first.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	dls, err := h.store.ListDeadLetters(ctx, limit)
	if err != nil {
		slog.Error("failed to list dead letters", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list dead letters",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deadLetters": dls,
		"count":       len(dls),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
