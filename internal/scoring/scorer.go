// Package scoring combines fixed heuristics, operator extension rules, and
// an optional model backend into a bot-likelihood score in [0, 1].
package scoring

import (
	"context"
	"fmt"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/metrics"
)

// Fixed heuristic weights. A known-bad agent outweighs a missing one, and a
// known-benign crawler earns a discount large enough to offset frequency and
// burst penalties combined.
const (
	weightKnownBadUA        = 0.7
	weightEmptyUA           = 0.5
	weightDisallowedPath    = 0.6
	weightHighFrequency     = 0.3
	weightElevatedFrequency = 0.1
	weightBurst             = 0.2
	weightKnownBenignUA     = -0.5

	highFrequencyThreshold     = 60
	elevatedFrequencyThreshold = 30
	burstGapSeconds            = 0.3

	ruleBlendWeight   = 0.3
	modelBlendWeight  = 0.7
	neutralModelScore = 0.5
)

// Scorer produces the per-request score. Construction compiles the extension
// rules and resolves the model backend; both are immutable afterwards so
// Score is safe for concurrent use.
type Scorer struct {
	rules []*ExtensionRule
	model Model
}

// Result carries the score with its components for decision metadata.
type Result struct {
	RuleScore  float64
	ModelScore float64
	ModelUsed  bool
	Final      float64
}

// NewScorer builds a scorer from configuration.
func NewScorer(cfg domain.ScoringConfig) (*Scorer, error) {
	rules, err := CompileExtensionRules(cfg.ExtensionRules)
	if err != nil {
		return nil, err
	}

	model, err := NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model backend: %w", err)
	}

	return &Scorer{rules: rules, model: model}, nil
}

// Score evaluates the heuristics and, when a model backend is configured,
// blends 30% rule score with 70% model probability. A model failure falls
// back to the neutral 0.5 so a dead serving stack cannot flip decisions to
// either extreme.
func (s *Scorer) Score(ctx context.Context, fv domain.FeatureVector) Result {
	ruleScore := s.ruleScore(fv)
	res := Result{RuleScore: ruleScore, Final: ruleScore}

	if s.model == nil {
		return res
	}

	prob, err := s.model.Predict(ctx, fv)
	if err != nil {
		metrics.ModelFallbacks.Inc()
		prob = neutralModelScore
	}

	res.ModelScore = prob
	res.ModelUsed = true
	res.Final = Clamp(ruleBlendWeight*ruleScore + modelBlendWeight*prob)
	return res
}

// ModelName reports the active backend, or "none".
func (s *Scorer) ModelName() string {
	if s.model == nil {
		return "none"
	}
	return s.model.Name()
}

// Rules returns the loaded extension rule configurations.
func (s *Scorer) Rules() []domain.ExtensionRule {
	out := make([]domain.ExtensionRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Config)
	}
	return out
}

func (s *Scorer) ruleScore(fv domain.FeatureVector) float64 {
	score := 0.0

	// A benign-crawler match suppresses the bad-UA and path penalties
	// outright: a UA matching both substring lists earns the discount and
	// none of the penalties. Empty-UA weight only applies when no bad
	// substring matched; an empty string never matches the substring lists
	// anyway, so those branches are mutually exclusive by construction.
	if fv.UAKnownBad && !fv.UAKnownBenign {
		score += weightKnownBadUA
	} else if fv.UAEmpty {
		score += weightEmptyUA
	}

	if fv.PathDisallowed && !fv.UAKnownBenign {
		score += weightDisallowedPath
	}

	switch {
	case fv.FreqCount > highFrequencyThreshold:
		score += weightHighFrequency
	case fv.FreqCount > elevatedFrequencyThreshold:
		score += weightElevatedFrequency
	}

	if fv.SecondsSinceLast >= 0 && fv.SecondsSinceLast < burstGapSeconds {
		score += weightBurst
	}

	if fv.UAKnownBenign {
		score += weightKnownBenignUA
	}

	for _, r := range s.rules {
		hit, err := r.Eval(fv)
		if err != nil {
			metrics.RuleEvalErrors.WithLabelValues(r.Config.ID).Inc()
			continue
		}
		if hit {
			score += r.Config.Weight
		}
	}

	return Clamp(score)
}

// Clamp bounds a score to [0, 1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
