package domain

import (
	"time"
)

// Action is the final disposition of one classification request.
type Action string

// Terminal actions of the classification cascade. Exactly one is set per
// request.
const (
	ActionEscalateReputation  Action = "escalate_reputation"
	ActionEscalateHighScore   Action = "escalate_high_score"
	ActionEscalateLocalLLM    Action = "escalate_local_llm"
	ActionEscalateExternalAPI Action = "escalate_external_api"
	ActionClassifiedHuman     Action = "classified_human"
	ActionCaptchaTriggered    Action = "captcha_triggered"
	ActionExternalAPIUnknown  Action = "external_api_inconclusive"
	ActionInconclusive        Action = "inconclusive"
	ActionInternalError       Action = "internal_error"
)

// ReasonTag is the machine-readable escalation reason carried alongside the
// human-readable reason text. Alert routing keys off the tag, never off the
// text.
type ReasonTag string

const (
	ReasonReputation  ReasonTag = "ip_reputation"
	ReasonHighScore   ReasonTag = "high_heuristic_score"
	ReasonLocalLLM    ReasonTag = "local_llm_verdict"
	ReasonExternalAPI ReasonTag = "external_api_verdict"
)

// Decision is the complete output of the escalation decision engine for one
// request.
type Decision struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	IsBot     *bool     `json:"isBotDecision"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
	ReasonTag ReasonTag `json:"reasonTag,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Metadata DecisionMetadata `json:"metadata"`
}

// DecisionMetadata records per-stage processing information.
type DecisionMetadata struct {
	FrequencyMs   int64  `json:"frequencyMs"`
	ReputationMs  int64  `json:"reputationMs,omitempty"`
	ScoreMs       int64  `json:"scoreMs"`
	LocalLLMMs    int64  `json:"localLlmMs,omitempty"`
	ExternalMs    int64  `json:"externalMs,omitempty"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// Escalates reports whether the decision's action is one of the escalating
// terminals that must be forwarded to the alert webhook.
func (d *Decision) Escalates() bool {
	switch d.Action {
	case ActionEscalateReputation, ActionEscalateHighScore,
		ActionEscalateLocalLLM, ActionEscalateExternalAPI:
		return true
	}
	return false
}

// EscalationEvent is the envelope posted to the alert webhook.
type EscalationEvent struct {
	EventType    string           `json:"event_type"`
	Reason       string           `json:"reason"`
	ReasonTag    ReasonTag        `json:"reason_tag"`
	TimestampUTC string           `json:"timestamp_utc"`
	Details      *RequestMetadata `json:"details"`
}

// EventTypeBotDetected is the event type for escalation envelopes.
const EventTypeBotDetected = "bot_detected"

// BoolPtr returns a pointer to b. Tri-state verdicts use *bool where nil
// means "unknown".
func BoolPtr(b bool) *bool {
	return &b
}
