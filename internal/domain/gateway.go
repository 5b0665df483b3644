package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Classifier is the uniform contract of the external dependency gateways.
// The returned *bool is a tri-state verdict: true = bot, false = human,
// nil = unknown/unavailable. A non-nil error always accompanies a nil
// verdict; the cascade treats both as "unknown" and fails open.
type Classifier interface {
	// Name identifies the gateway in logs and metrics.
	Name() string

	// Classify issues one bounded call to the provider and maps the
	// response to a tri-state verdict.
	Classify(ctx context.Context, meta *RequestMetadata) (*bool, error)
}

// ReputationChecker queries an IP-reputation provider.
type ReputationChecker interface {
	Check(ctx context.Context, ip string) (*ReputationResult, error)
}

// ReputationResult is the verdict from the IP-reputation gateway. Malicious
// is the provider's flag gated on the configured confidence floor and always
// short-circuits the cascade; Suspect marks a provider flag whose confidence
// fell below the floor, which only feeds a score bonus.
type ReputationResult struct {
	Malicious  bool            `json:"malicious"`
	Suspect    bool            `json:"suspect,omitempty"`
	Confidence float64         `json:"confidence"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// FrequencyTracker maintains the per-client sliding window of request
// timestamps.
type FrequencyTracker interface {
	// RecordAndQuery inserts the current event and returns the snapshot of
	// prior activity in the window. The returned count excludes the event
	// just recorded.
	RecordAndQuery(ctx context.Context, clientKey string, now time.Time) (FrequencySnapshot, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Dispatcher forwards escalation verdicts to the configured alert sink.
// Dispatch is fire-and-forget relative to the caller's response.
type Dispatcher interface {
	Dispatch(meta *RequestMetadata, tag ReasonTag, reason string)
}
