package api

import (
	"encoding/json"
	"math"
	"net"
	"net/http"

	"github.com/openbotdefense/kestrel/internal/cascade"
	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/metrics"
	"github.com/openbotdefense/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *cascade.Engine
	tracker domain.FrequencyTracker
	bus     domain.EventBus
	scorer  *scoring.Scorer
	version string
}

// NewHandler creates a new API handler.
func NewHandler(engine *cascade.Engine, tracker domain.FrequencyTracker, bus domain.EventBus, scorer *scoring.Scorer, version string) *Handler {
	return &Handler{
		engine:  engine,
		tracker: tracker,
		bus:     bus,
		scorer:  scorer,
		version: version,
	}
}

// ClassifyResponse is the response for POST /classify.
type ClassifyResponse struct {
	Status        string           `json:"status"`
	DecisionID    string           `json:"decision_id"`
	Action        domain.Action    `json:"action"`
	IsBotDecision *bool            `json:"is_bot_decision"`
	Score         float64          `json:"score"`
	Reason        string           `json:"reason,omitempty"`
	ReasonTag     domain.ReasonTag `json:"reason_tag,omitempty"`
	Metadata      ClassifyMetadata `json:"metadata"`
}

// ClassifyMetadata carries per-stage timings for latency debugging.
type ClassifyMetadata struct {
	TraceID       string `json:"traceId"`
	FrequencyMs   int64  `json:"frequencyMs"`
	ReputationMs  int64  `json:"reputationMs,omitempty"`
	ScoreMs       int64  `json:"scoreMs"`
	LocalLLMMs    int64  `json:"localLlmMs,omitempty"`
	ExternalMs    int64  `json:"externalMs,omitempty"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// Classify handles POST /classify requests.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var meta domain.RequestMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		metrics.ValidationFailures.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg := validateMetadata(&meta); msg != "" {
		metrics.ValidationFailures.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return
	}

	decision := h.engine.Decide(ctx, &meta)

	status := http.StatusOK
	if decision.Action == domain.ActionInternalError {
		status = http.StatusInternalServerError
	}

	resp := ClassifyResponse{
		Status:        "processed",
		DecisionID:    decision.ID,
		Action:        decision.Action,
		IsBotDecision: decision.IsBot,
		Score:         roundScore(decision.Score),
		Reason:        decision.Reason,
		ReasonTag:     decision.ReasonTag,
		Metadata: ClassifyMetadata{
			TraceID:       GetTraceID(ctx),
			FrequencyMs:   decision.Metadata.FrequencyMs,
			ReputationMs:  decision.Metadata.ReputationMs,
			ScoreMs:       decision.Metadata.ScoreMs,
			LocalLLMMs:    decision.Metadata.LocalLLMMs,
			ExternalMs:    decision.Metadata.ExternalMs,
			TotalMs:       decision.Metadata.TotalMs,
			EngineVersion: decision.Metadata.EngineVersion,
		},
	}

	writeJSON(w, status, resp)
}

// validateMetadata checks the fields the cascade cannot degrade around.
// The timestamp is deliberately not validated here: a malformed one
// becomes sentinel features instead of a rejection.
func validateMetadata(meta *domain.RequestMetadata) string {
	if meta.IP == "" {
		return "ip is required"
	}
	if net.ParseIP(meta.IP) == nil {
		return "ip is not a valid IPv4 or IPv6 address"
	}
	if meta.Timestamp == "" {
		return "timestamp is required"
	}
	return ""
}

// Health returns server health status. A failing frequency store degrades
// health but does not fail it, matching the cascade's fail-open behavior.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.tracker != nil {
		if err := h.tracker.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
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

// ListRules returns the loaded extension rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := []domain.ExtensionRule{}
	if h.scorer != nil {
		rules = h.scorer.Rules()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// roundScore rounds to three decimals for the wire; internal consumers keep
// full precision.
func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
