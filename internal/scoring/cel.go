package scoring

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// ExtensionRule is a compiled operator-defined predicate over the feature
// vector. When it evaluates true its weight is added to the rule score;
// negative weights whitelist traffic.
type ExtensionRule struct {
	Config  domain.ExtensionRule
	program cel.Program
}

// newRuleEnv declares the feature vector fields as CEL variables, one per
// field, snake_cased.
func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("ua_length", cel.IntType),
		cel.Variable("ua_empty", cel.BoolType),
		cel.Variable("ua_known_bad", cel.BoolType),
		cel.Variable("ua_known_benign", cel.BoolType),
		cel.Variable("path_length", cel.IntType),
		cel.Variable("path_depth", cel.IntType),
		cel.Variable("path_disallowed", cel.BoolType),
		cel.Variable("method", cel.StringType),
		cel.Variable("has_referer", cel.BoolType),
		cel.Variable("referer_domain", cel.StringType),
		cel.Variable("header_count", cel.IntType),
		cel.Variable("has_accept_language", cel.BoolType),
		cel.Variable("has_accept_encoding", cel.BoolType),
		cel.Variable("has_cookie", cel.BoolType),
		cel.Variable("hour_of_day", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("freq_count", cel.IntType),
		cel.Variable("seconds_since_last", cel.DoubleType),
	)
}

// CompileExtensionRules compiles the enabled rules. A compile error is a
// configuration error and fails startup; runtime evaluation errors are
// handled per request instead.
func CompileExtensionRules(configs []domain.ExtensionRule) ([]*ExtensionRule, error) {
	if len(configs) == 0 {
		return nil, nil
	}

	env, err := newRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make([]*ExtensionRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		ast, issues := env.Compile(cfg.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
		}

		rules = append(rules, &ExtensionRule{Config: cfg, program: program})
	}

	return rules, nil
}

// Eval runs the rule against one feature vector.
func (r *ExtensionRule) Eval(fv domain.FeatureVector) (bool, error) {
	out, _, err := r.program.Eval(activation(fv))
	if err != nil {
		return false, err
	}
	hit, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %s: non-bool result %v", r.Config.ID, out)
	}
	return bool(hit), nil
}

func activation(fv domain.FeatureVector) map[string]any {
	return map[string]any{
		"ua_length":           fv.UALength,
		"ua_empty":            fv.UAEmpty,
		"ua_known_bad":        fv.UAKnownBad,
		"ua_known_benign":     fv.UAKnownBenign,
		"path_length":         fv.PathLength,
		"path_depth":          fv.PathDepth,
		"path_disallowed":     fv.PathDisallowed,
		"method":              fv.Method,
		"has_referer":         fv.HasReferer,
		"referer_domain":      fv.RefererDomain,
		"header_count":        fv.HeaderCount,
		"has_accept_language": fv.HasAcceptLanguage,
		"has_accept_encoding": fv.HasAcceptEncoding,
		"has_cookie":          fv.HasCookie,
		"hour_of_day":         fv.HourOfDay,
		"day_of_week":         fv.DayOfWeek,
		"freq_count":          fv.FreqCount,
		"seconds_since_last":  fv.SecondsSinceLast,
	}
}
