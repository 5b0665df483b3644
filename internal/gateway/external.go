package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// External calls a third-party bot detection API, the last and most
// expensive stage of the cascade. The provider may itself be inconclusive,
// which is a valid outcome distinct from a failure.
type External struct {
	client *http.Client
	url    string
	apiKey string
}

// NewExternal creates the external API gateway.
func NewExternal(cfg domain.ExternalAPIConfig) *External {
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &External{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		apiKey: cfg.APIKey,
	}
}

func (g *External) Name() string { return "external_api" }

// Classify submits the request metadata and maps the provider's answer to
// the tri-state verdict: a "bot" field decides, a null or absent field
// means the provider could not tell.
func (g *External) Classify(ctx context.Context, meta *domain.RequestMetadata) (*bool, error) {
	payload := map[string]string{
		"ip":         meta.IP,
		"user_agent": meta.UserAgent,
		"path":       meta.Path,
		"method":     meta.Method,
		"referer":    meta.Referer,
		"timestamp":  meta.Timestamp,
	}

	headers := map[string]string{}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}

	var out struct {
		Bot *bool `json:"bot"`
	}
	if err := PostJSON(ctx, g.client, g.url, headers, payload, &out); err != nil {
		countFailure("external_api", err)
		return nil, fmt.Errorf("external api: %w", err)
	}

	return out.Bot, nil
}
