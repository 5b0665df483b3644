package scoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/openbotdefense/kestrel/internal/domain"
)

type stubModel struct {
	prob float64
	err  error
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Predict(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	return m.prob, m.err
}

func newTestScorer(t *testing.T, cfg domain.ScoringConfig) *Scorer {
	t.Helper()
	s, err := NewScorer(cfg)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s
}

func ruleOnlyConfig() domain.ScoringConfig {
	cfg := domain.DefaultConfig().Scoring
	cfg.ModelBackend = "none"
	return cfg
}

func TestRuleScore(t *testing.T) {
	ctx := context.Background()
	s := newTestScorer(t, ruleOnlyConfig())

	t.Run("AggressiveScraperClamped", func(t *testing.T) {
		// 0.7 (bad UA) + 0.6 (disallowed) + 0.3 (freq) + 0.2 (burst) = 1.8
		fv := domain.FeatureVector{
			UAKnownBad:       true,
			PathDisallowed:   true,
			FreqCount:        70,
			SecondsSinceLast: 0.1,
		}
		res := s.Score(ctx, fv)
		if res.Final != 1.0 {
			t.Errorf("expected clamp to 1.0, got %v", res.Final)
		}
		if res.ModelUsed {
			t.Error("backend none should not report a model score")
		}
	})

	t.Run("EmptyUAOnly", func(t *testing.T) {
		fv := domain.FeatureVector{UAEmpty: true, SecondsSinceLast: domain.UnknownNumeric}
		if res := s.Score(ctx, fv); res.Final != 0.5 {
			t.Errorf("expected 0.5, got %v", res.Final)
		}
	})

	t.Run("BenignCrawlerDiscount", func(t *testing.T) {
		// 0.3 (freq) + 0.2 (burst) - 0.5 (benign) = 0.0
		fv := domain.FeatureVector{
			UAKnownBenign:    true,
			FreqCount:        70,
			SecondsSinceLast: 0.1,
		}
		if res := s.Score(ctx, fv); res.Final != 0.0 {
			t.Errorf("expected benign discount to floor at 0.0, got %v", res.Final)
		}
	})

	t.Run("BenignOverridesBadSubstring", func(t *testing.T) {
		// A crawler UA matching both substring lists gets the discount and
		// neither the bad-UA nor the path penalty: 0.3 + 0.2 - 0.5 = 0.0.
		fv := domain.FeatureVector{
			UAKnownBad:       true,
			UAKnownBenign:    true,
			PathDisallowed:   true,
			FreqCount:        70,
			SecondsSinceLast: 0.1,
		}
		res := s.Score(ctx, fv)
		if res.Final != 0.0 {
			t.Errorf("expected benign match to suppress penalties, got %v", res.Final)
		}
	})

	t.Run("ElevatedFrequencyBand", func(t *testing.T) {
		fv := domain.FeatureVector{FreqCount: 45, SecondsSinceLast: domain.UnknownNumeric}
		res := s.Score(ctx, fv)
		if res.Final < 0.099 || res.Final > 0.101 {
			t.Errorf("expected 0.1 for the 31-60 band, got %v", res.Final)
		}
	})

	t.Run("UnknownGapSkipsBurst", func(t *testing.T) {
		fv := domain.FeatureVector{SecondsSinceLast: domain.UnknownNumeric}
		if res := s.Score(ctx, fv); res.Final != 0.0 {
			t.Errorf("sentinel gap must not count as a burst, got %v", res.Final)
		}
	})
}

func TestScoreBlending(t *testing.T) {
	ctx := context.Background()
	fv := domain.FeatureVector{
		UAKnownBad:       true,
		PathDisallowed:   true,
		SecondsSinceLast: domain.UnknownNumeric,
	} // rule score 1.0 after clamp

	t.Run("BlendsRuleAndModel", func(t *testing.T) {
		s := &Scorer{model: &stubModel{prob: 0.2}}
		res := s.Score(ctx, fv)
		want := 0.3*1.0 + 0.7*0.2
		if diff := res.Final - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected %v, got %v", want, res.Final)
		}
		if !res.ModelUsed {
			t.Error("expected model to be used")
		}
	})

	t.Run("ModelFailureIsNeutral", func(t *testing.T) {
		s := &Scorer{model: &stubModel{err: fmt.Errorf("serving stack down")}}
		fv := domain.FeatureVector{UAEmpty: true, SecondsSinceLast: domain.UnknownNumeric}
		res := s.Score(ctx, fv)
		// 0.3*0.5 + 0.7*0.5 = 0.5: rule score preserved through the blend.
		if res.Final != 0.5 {
			t.Errorf("expected neutral fallback 0.5, got %v", res.Final)
		}
		if res.ModelScore != 0.5 {
			t.Errorf("expected recorded model score 0.5, got %v", res.ModelScore)
		}
	})
}

func TestExtensionRules(t *testing.T) {
	ctx := context.Background()

	t.Run("WeightApplied", func(t *testing.T) {
		cfg := ruleOnlyConfig()
		cfg.ExtensionRules = []domain.ExtensionRule{
			{ID: "night-owl", Expression: "hour_of_day >= 1 && hour_of_day <= 4", Weight: 0.2, Enabled: true},
			{ID: "disabled", Expression: "true", Weight: 0.9, Enabled: false},
		}
		s := newTestScorer(t, cfg)

		fv := domain.FeatureVector{HourOfDay: 3, SecondsSinceLast: domain.UnknownNumeric}
		res := s.Score(ctx, fv)
		if res.Final < 0.199 || res.Final > 0.201 {
			t.Errorf("expected 0.2 from the enabled rule only, got %v", res.Final)
		}
	})

	t.Run("NegativeWeightWhitelists", func(t *testing.T) {
		cfg := ruleOnlyConfig()
		cfg.ExtensionRules = []domain.ExtensionRule{
			{ID: "partner-referer", Expression: "referer_domain == 'partner.example.com'", Weight: -0.6, Enabled: true},
		}
		s := newTestScorer(t, cfg)

		fv := domain.FeatureVector{
			UAEmpty:          true,
			RefererDomain:    "partner.example.com",
			SecondsSinceLast: domain.UnknownNumeric,
		}
		// 0.5 - 0.6 clamps to 0.
		if res := s.Score(ctx, fv); res.Final != 0.0 {
			t.Errorf("expected whitelist rule to floor the score, got %v", res.Final)
		}
	})

	t.Run("CompileErrorFailsStartup", func(t *testing.T) {
		cfg := ruleOnlyConfig()
		cfg.ExtensionRules = []domain.ExtensionRule{
			{ID: "broken", Expression: "freq_count >>> 2", Weight: 0.1, Enabled: true},
		}
		if _, err := NewScorer(cfg); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("NonBoolRejected", func(t *testing.T) {
		cfg := ruleOnlyConfig()
		cfg.ExtensionRules = []domain.ExtensionRule{
			{ID: "numeric", Expression: "freq_count + 1", Weight: 0.1, Enabled: true},
		}
		if _, err := NewScorer(cfg); err == nil {
			t.Error("expected non-bool expression to be rejected")
		}
	})
}

func TestLogitModel(t *testing.T) {
	ctx := context.Background()
	m := &LogitModel{}

	scraper := domain.FeatureVector{
		UAKnownBad:       true,
		PathDisallowed:   true,
		FreqCount:        80,
		SecondsSinceLast: 0.1,
	}
	browser := domain.FeatureVector{
		UALength:          70,
		HasReferer:        true,
		HasAcceptLanguage: true,
		HasCookie:         true,
		HeaderCount:       12,
		SecondsSinceLast:  45,
	}

	hi, err := m.Predict(ctx, scraper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lo, err := m.Predict(ctx, browser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hi <= lo {
		t.Errorf("scraper (%v) should score above browser (%v)", hi, lo)
	}
	if hi < 0 || hi > 1 || lo < 0 || lo > 1 {
		t.Errorf("probabilities out of range: %v, %v", hi, lo)
	}
	if lo > 0.5 {
		t.Errorf("browser-shaped request should stay below 0.5, got %v", lo)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.2, 0},
		{0, 0},
		{0.44, 0.44},
		{1, 1},
		{1.8, 1},
	}
	for _, tc := range cases {
		if got := Clamp(tc.in); got != tc.want {
			t.Errorf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
