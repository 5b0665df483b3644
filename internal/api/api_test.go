package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openbotdefense/kestrel/internal/bus"
	"github.com/openbotdefense/kestrel/internal/cascade"
	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/features"
	"github.com/openbotdefense/kestrel/internal/frequency"
	"github.com/openbotdefense/kestrel/internal/scoring"
)

type panicTracker struct{}

func (p *panicTracker) RecordAndQuery(ctx context.Context, clientKey string, now time.Time) (domain.FrequencySnapshot, error) {
	panic("tracker exploded")
}
func (p *panicTracker) Ping(ctx context.Context) error { return nil }
func (p *panicTracker) Close() error                   { return nil }

func newTestServer(t *testing.T, mutate func(cfg *domain.Config)) *Server {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Scoring.ModelBackend = "none"
	if mutate != nil {
		mutate(cfg)
	}

	tracker := frequency.NewMemoryTracker(cfg.Frequency)
	t.Cleanup(func() { tracker.Close() })

	eventBus := bus.NewChannelBus(cfg.EventBus.ChannelBufferSize)
	t.Cleanup(func() { eventBus.Close() })

	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	engine := cascade.New(cfg, cascade.Deps{
		Tracker:   tracker,
		Extractor: features.NewExtractor(cfg.Scoring),
		Scorer:    scorer,
	})

	return NewServer(cfg.Server, engine, tracker, eventBus, scorer, "test")
}

func postClassify(t *testing.T, srv *Server, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/classify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ClassifyResponse {
	t.Helper()
	var resp ClassifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestClassifyScraper(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postClassify(t, srv, domain.RequestMetadata{
		Timestamp: "2025-06-01T14:30:00Z",
		IP:        "203.0.113.7",
		UserAgent: "python-requests/2.31.0",
		Path:      "/wp-admin/setup.php",
		Method:    "GET",
		Source:    "honeypot",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	if resp.Status != "processed" {
		t.Errorf("expected status processed, got %q", resp.Status)
	}
	if resp.Action != domain.ActionEscalateHighScore {
		t.Errorf("expected escalate_high_score, got %s", resp.Action)
	}
	if resp.IsBotDecision == nil || !*resp.IsBotDecision {
		t.Error("expected bot verdict")
	}
	if resp.Score != 1.0 {
		t.Errorf("expected score 1.0, got %v", resp.Score)
	}
	if resp.DecisionID == "" {
		t.Error("expected a decision id")
	}
	if resp.Metadata.EngineVersion == "" {
		t.Error("expected engine version in metadata")
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestClassifyBrowser(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postClassify(t, srv, domain.RequestMetadata{
		Timestamp: "2025-06-01T14:30:00Z",
		IP:        "198.51.100.4",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Firefox/126.0",
		Path:      "/products/42",
		Method:    "GET",
		Headers:   map[string]string{"Accept-Language": "en-US", "Cookie": "session=abc"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Action != domain.ActionClassifiedHuman {
		t.Errorf("expected classified_human, got %s", resp.Action)
	}
	if resp.IsBotDecision == nil || *resp.IsBotDecision {
		t.Error("expected human verdict")
	}
}

func TestClassifyValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := []struct {
		name string
		body any
	}{
		{"InvalidJSON", `{"ip": `},
		{"MissingIP", domain.RequestMetadata{Timestamp: "2025-06-01T14:30:00Z"}},
		{"MalformedIP", domain.RequestMetadata{Timestamp: "2025-06-01T14:30:00Z", IP: "not-an-ip"}},
		{"MissingTimestamp", domain.RequestMetadata{IP: "203.0.113.7"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postClassify(t, srv, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestClassifyMalformedTimestampIsAccepted(t *testing.T) {
	srv := newTestServer(t, nil)

	// A present-but-unparsable timestamp degrades to sentinel features, it
	// does not reject the request.
	rec := postClassify(t, srv, domain.RequestMetadata{
		Timestamp: "yesterday-ish",
		IP:        "203.0.113.7",
		UserAgent: "curl/8.0",
		Path:      "/",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestClassifyInternalError(t *testing.T) {
	srv := newTestServer(t, nil)

	cfg := domain.DefaultConfig()
	cfg.Scoring.ModelBackend = "none"
	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	srv.handler.engine = cascade.New(cfg, cascade.Deps{
		Tracker:   &panicTracker{},
		Extractor: features.NewExtractor(cfg.Scoring),
		Scorer:    scorer,
	})

	rec := postClassify(t, srv, domain.RequestMetadata{
		Timestamp: "2025-06-01T14:30:00Z",
		IP:        "203.0.113.7",
	})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Action != domain.ActionInternalError {
		t.Errorf("expected internal_error, got %s", resp.Action)
	}
	if resp.Score != -1 {
		t.Errorf("expected sentinel score, got %v", resp.Score)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", body["status"])
	}
}

func TestReady(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListRules(t *testing.T) {
	srv := newTestServer(t, func(cfg *domain.Config) {
		cfg.Scoring.ExtensionRules = []domain.ExtensionRule{
			{ID: "night-owl", Expression: "hour_of_day >= 1 && hour_of_day <= 4", Weight: 0.2, Enabled: true},
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Rules []domain.ExtensionRule `json:"rules"`
		Count int                    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Rules) != 1 || body.Rules[0].ID != "night-owl" {
		t.Errorf("unexpected rules payload: %+v", body)
	}
}
