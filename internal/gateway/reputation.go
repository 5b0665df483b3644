package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/metrics"
)

// Reputation queries an IP reputation provider. The provider's malicious
// flag is gated on the configured confidence floor here, so a result marked
// Malicious always short-circuits the cascade; a flag below the floor is
// reported as Suspect instead.
type Reputation struct {
	client       *http.Client
	url          string
	apiKey       string
	minMalicious float64
}

// NewReputation creates a reputation gateway with a bounded per-call timeout.
func NewReputation(cfg domain.IPReputationConfig) *Reputation {
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Reputation{
		client:       &http.Client{Timeout: timeout},
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		minMalicious: cfg.MinMaliciousScore,
	}
}

// Check looks up one IP. Failures are counted and returned; the caller
// treats them as "reputation unknown".
func (g *Reputation) Check(ctx context.Context, ip string) (*domain.ReputationResult, error) {
	var raw json.RawMessage
	headers := map[string]string{}
	if g.apiKey != "" {
		headers["X-Api-Key"] = g.apiKey
	}

	if err := PostJSON(ctx, g.client, g.url, headers, map[string]string{"ip": ip}, &raw); err != nil {
		countFailure("ip_reputation", err)
		return nil, fmt.Errorf("ip reputation: %w", err)
	}

	var out struct {
		Malicious *bool   `json:"malicious"`
		Score     float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		countFailure("ip_reputation", err)
		return nil, fmt.Errorf("ip reputation: decode response: %w", err)
	}
	if out.Malicious == nil {
		metrics.DependencyFailures.WithLabelValues("ip_reputation", metrics.KindDecode).Inc()
		return nil, fmt.Errorf("ip reputation: response missing malicious field")
	}

	malicious := *out.Malicious && out.Score >= g.minMalicious
	return &domain.ReputationResult{
		Malicious:  malicious,
		Suspect:    *out.Malicious && !malicious,
		Confidence: out.Score,
		Raw:        raw,
	}, nil
}
