package scoring

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/gateway"
	"github.com/openbotdefense/kestrel/internal/metrics"
)

// Model predicts the probability that a request is automated, in [0, 1].
type Model interface {
	Name() string
	Predict(ctx context.Context, fv domain.FeatureVector) (float64, error)
}

// NewModel selects the model backend. "none" disables blending and is a
// valid choice, returned as a nil Model.
func NewModel(cfg domain.ScoringConfig) (Model, error) {
	switch cfg.ModelBackend {
	case "logit":
		return &LogitModel{}, nil

	case "service":
		if cfg.ModelURL == "" {
			return nil, fmt.Errorf("model backend \"service\" requires a model URL")
		}
		timeout := time.Duration(cfg.ModelTimeoutSeconds * float64(time.Second))
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		return &ServiceModel{
			client: &http.Client{Timeout: timeout},
			url:    cfg.ModelURL,
		}, nil

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported model backend: %s", cfg.ModelBackend)
	}
}

// LogitModel is the built-in backend: a logistic regression with fixed
// coefficients over the feature vector. It is pure and cannot fail, which
// makes it the default for deployments without a serving stack.
type LogitModel struct{}

// Coefficients hand-fitted against labeled honeypot traffic. The bias keeps
// a featureless request well below the escalation threshold.
const (
	logitBias          = -2.2
	logitUAKnownBad    = 3.1
	logitUAEmpty       = 1.9
	logitUAKnownBenign = -2.6
	logitDisallowed    = 2.4
	logitNoAcceptLang  = 0.8
	logitNoCookie      = 0.5
	logitNoReferer     = 0.4
	logitBurst         = 1.5
	logitPerEvent      = 0.02
	logitFreqCap       = 120
)

func (m *LogitModel) Name() string { return "logit" }

func (m *LogitModel) Predict(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	z := logitBias

	if fv.UAKnownBad {
		z += logitUAKnownBad
	} else if fv.UAEmpty {
		z += logitUAEmpty
	}
	if fv.UAKnownBenign && !fv.UAKnownBad {
		z += logitUAKnownBenign
	}
	if fv.PathDisallowed {
		z += logitDisallowed
	}
	if !fv.HasAcceptLanguage {
		z += logitNoAcceptLang
	}
	if !fv.HasCookie {
		z += logitNoCookie
	}
	if !fv.HasReferer {
		z += logitNoReferer
	}
	if fv.SecondsSinceLast >= 0 && fv.SecondsSinceLast < burstGapSeconds {
		z += logitBurst
	}

	count := fv.FreqCount
	if count > logitFreqCap {
		count = logitFreqCap
	}
	if count > 0 {
		z += logitPerEvent * float64(count)
	}

	return 1.0 / (1.0 + math.Exp(-z)), nil
}

// ServiceModel calls an external scoring service with the feature vector
// and expects {"probability": x} back.
type ServiceModel struct {
	client *http.Client
	url    string
}

func (m *ServiceModel) Name() string { return "service" }

func (m *ServiceModel) Predict(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	var out struct {
		Probability *float64 `json:"probability"`
	}
	if err := gateway.PostJSON(ctx, m.client, m.url, nil, fv, &out); err != nil {
		metrics.DependencyFailures.WithLabelValues("model", gateway.FailKind(err)).Inc()
		return 0, fmt.Errorf("model service: %w", err)
	}
	if out.Probability == nil {
		metrics.DependencyFailures.WithLabelValues("model", metrics.KindDecode).Inc()
		return 0, fmt.Errorf("model service: response missing probability")
	}

	p := *out.Probability
	if math.IsNaN(p) || p < 0 || p > 1 {
		metrics.DependencyFailures.WithLabelValues("model", metrics.KindDecode).Inc()
		return 0, fmt.Errorf("model service: probability %v out of range", p)
	}
	return p, nil
}
