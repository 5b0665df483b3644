// Package cascade implements the escalation decision cascade: frequency
// tracking, IP reputation, heuristic scoring, then progressively more
// expensive classifiers until one of them produces a verdict.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/features"
	"github.com/openbotdefense/kestrel/internal/metrics"
	"github.com/openbotdefense/kestrel/internal/scoring"
)

// EngineVersion is stamped into every decision's metadata.
const EngineVersion = "1.2.0"

// Deps are the engine's collaborators. Reputation, LocalLLM and External
// are nil when the corresponding stage is disabled.
type Deps struct {
	Tracker    domain.FrequencyTracker
	Extractor  *features.Extractor
	Scorer     *scoring.Scorer
	Reputation domain.ReputationChecker
	LocalLLM   domain.Classifier
	External   domain.Classifier
	Dispatcher domain.Dispatcher
	Logger     *slog.Logger
}

// Engine runs the cascade. Safe for concurrent use; all state is read-only
// after construction.
type Engine struct {
	cfg        *domain.Config
	tracker    domain.FrequencyTracker
	extractor  *features.Extractor
	scorer     *scoring.Scorer
	reputation domain.ReputationChecker
	localLLM   domain.Classifier
	external   domain.Classifier
	dispatcher domain.Dispatcher
	logger     *slog.Logger
}

// New creates the engine.
func New(cfg *domain.Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		tracker:    deps.Tracker,
		extractor:  deps.Extractor,
		scorer:     deps.Scorer,
		reputation: deps.Reputation,
		localLLM:   deps.LocalLLM,
		external:   deps.External,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// Decide classifies one request. It always returns a decision: dependency
// failures degrade stage by stage, and a panic anywhere in the pipeline is
// converted into an internal_error decision rather than a dropped request.
func (e *Engine) Decide(ctx context.Context, meta *domain.RequestMetadata) (decision *domain.Decision) {
	start := time.Now()
	decision = &domain.Decision{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Metadata:  domain.DecisionMetadata{EngineVersion: EngineVersion},
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in decision cascade",
				"decision_id", decision.ID,
				"panic", r,
			)
			decision.Action = domain.ActionInternalError
			decision.IsBot = nil
			decision.Score = -1
			decision.Reason = "internal error"
			decision.ReasonTag = ""
		}
		decision.Metadata.TotalMs = time.Since(start).Milliseconds()
		metrics.Decisions.WithLabelValues(string(decision.Action)).Inc()
	}()

	// Stage 1: frequency. The store failing open means the request is
	// scored as if it were the client's first.
	stageStart := time.Now()
	snap, err := e.tracker.RecordAndQuery(ctx, meta.ClientKey(), time.Now())
	if err != nil {
		e.logger.Warn("frequency store unavailable, failing open",
			"decision_id", decision.ID,
			"error", err,
		)
		snap = domain.ZeroSnapshot()
	}
	decision.Metadata.FrequencyMs = e.observeStage("frequency", stageStart)

	if e.cancelled(ctx, decision) {
		return decision
	}

	// Stage 2: IP reputation. A malicious verdict escalates without
	// scoring; a below-floor flag carries a score bonus forward.
	repBonus := 0.0
	if e.reputation != nil {
		stageStart = time.Now()
		rep, err := e.reputation.Check(ctx, meta.IP)
		decision.Metadata.ReputationMs = e.observeStage("reputation", stageStart)

		switch {
		case err != nil:
			e.logger.Warn("reputation lookup failed, continuing without it",
				"decision_id", decision.ID,
				"error", err,
			)
		case rep.Malicious:
			decision.Score = rep.Confidence
			e.escalate(decision, meta, domain.ActionEscalateReputation, domain.ReasonReputation,
				fmt.Sprintf("ip %s flagged malicious by reputation provider (confidence %.2f)", meta.IP, rep.Confidence))
			return decision
		case rep.Suspect:
			repBonus = e.cfg.IPReputation.Bonus
		}

		if e.cancelled(ctx, decision) {
			return decision
		}
	}

	// Stage 3: heuristic score, optionally blended with the model backend.
	stageStart = time.Now()
	fv := e.extractor.Extract(meta, snap)
	scoreRes := e.scorer.Score(ctx, fv)
	score := scoring.Clamp(scoreRes.Final + repBonus)
	decision.Score = score
	decision.Metadata.ScoreMs = e.observeStage("score", stageStart)

	switch {
	case score >= e.cfg.Escalation.HighThreshold:
		e.escalate(decision, meta, domain.ActionEscalateHighScore, domain.ReasonHighScore,
			fmt.Sprintf("risk score %.3f at or above threshold %.2f", score, e.cfg.Escalation.HighThreshold))
		return decision

	case score < e.cfg.Escalation.LowThreshold:
		decision.Action = domain.ActionClassifiedHuman
		decision.IsBot = domain.BoolPtr(false)
		decision.Reason = fmt.Sprintf("risk score %.3f below threshold %.2f", score, e.cfg.Escalation.LowThreshold)
		return decision
	}

	if e.cfg.Captcha.Enabled && score >= e.cfg.Captcha.LowBand && score < e.cfg.Captcha.HighBand {
		decision.Action = domain.ActionCaptchaTriggered
		decision.Reason = fmt.Sprintf("risk score %.3f in challenge band [%.2f, %.2f)",
			score, e.cfg.Captcha.LowBand, e.cfg.Captcha.HighBand)
		return decision
	}

	if e.cancelled(ctx, decision) {
		return decision
	}

	// Stage 4: local model inference.
	if e.localLLM != nil {
		stageStart = time.Now()
		verdict, err := e.localLLM.Classify(ctx, meta)
		decision.Metadata.LocalLLMMs = e.observeStage("local_llm", stageStart)

		if err != nil {
			e.logger.Warn("local llm unavailable, continuing",
				"decision_id", decision.ID,
				"error", err,
			)
		}
		if verdict != nil {
			if *verdict {
				e.escalate(decision, meta, domain.ActionEscalateLocalLLM, domain.ReasonLocalLLM,
					"local model classified request as automated")
			} else {
				decision.Action = domain.ActionClassifiedHuman
				decision.IsBot = domain.BoolPtr(false)
				decision.Reason = "local model classified request as human"
			}
			return decision
		}

		if e.cancelled(ctx, decision) {
			return decision
		}
	}

	// Stage 5: third-party detection API, the last resort.
	if e.external == nil {
		decision.Action = domain.ActionInconclusive
		decision.Reason = "no conclusive signal and no external classifier configured"
		return decision
	}

	stageStart = time.Now()
	verdict, err := e.external.Classify(ctx, meta)
	decision.Metadata.ExternalMs = e.observeStage("external", stageStart)

	if err != nil {
		e.logger.Warn("external api unavailable",
			"decision_id", decision.ID,
			"error", err,
		)
	}
	if verdict == nil {
		decision.Action = domain.ActionExternalAPIUnknown
		decision.Reason = "external classifier could not produce a verdict"
		return decision
	}

	if *verdict {
		e.escalate(decision, meta, domain.ActionEscalateExternalAPI, domain.ReasonExternalAPI,
			"external api classified request as automated")
	} else {
		decision.Action = domain.ActionClassifiedHuman
		decision.IsBot = domain.BoolPtr(false)
		decision.Reason = "external api classified request as human"
	}
	return decision
}

// escalate finalizes a bot verdict and hands it to the dispatcher. The
// dispatcher publishes to the bus and returns immediately, so escalation
// never delays the response.
func (e *Engine) escalate(decision *domain.Decision, meta *domain.RequestMetadata, action domain.Action, tag domain.ReasonTag, reason string) {
	decision.Action = action
	decision.IsBot = domain.BoolPtr(true)
	decision.Reason = reason
	decision.ReasonTag = tag

	if e.dispatcher != nil {
		e.dispatcher.Dispatch(meta, tag, reason)
	}
}

// cancelled finalizes the decision as inconclusive when the caller has
// given up. No further dependency calls are made on its behalf.
func (e *Engine) cancelled(ctx context.Context, decision *domain.Decision) bool {
	if ctx.Err() == nil {
		return false
	}
	decision.Action = domain.ActionInconclusive
	decision.Reason = "caller cancelled before classification completed"
	return true
}

func (e *Engine) observeStage(stage string, start time.Time) int64 {
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	return elapsed.Milliseconds()
}
