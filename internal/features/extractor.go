// Package features derives the per-request feature vector consumed by the
// risk scorer and model backends.
package features

import (
	"net/url"
	"strings"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// Extractor computes feature vectors. It is pure: no I/O, no failure modes
// beyond a malformed timestamp, which degrades to sentinel values.
type Extractor struct {
	knownBad        []string
	knownBenign     []string
	disallowedPaths []string
}

// NewExtractor compiles the configured UA substring lists and disallowed
// path prefixes. Matching is case-insensitive.
func NewExtractor(cfg domain.ScoringConfig) *Extractor {
	return &Extractor{
		knownBad:        lowerAll(cfg.KnownBadAgents),
		knownBenign:     lowerAll(cfg.KnownBenignAgents),
		disallowedPaths: lowerAll(cfg.DisallowedPaths),
	}
}

// Extract computes the feature vector for one request. The snapshot's count
// and inter-arrival time are copied through unchanged. Known-benign
// membership does not override known-bad here; precedence is resolved in
// scoring.
func (e *Extractor) Extract(meta *domain.RequestMetadata, freq domain.FrequencySnapshot) domain.FeatureVector {
	fv := domain.FeatureVector{
		FreqCount:        freq.Count,
		SecondsSinceLast: freq.SecondsSinceLast,
	}

	ua := strings.TrimSpace(meta.UserAgent)
	fv.UALength = len(ua)
	fv.UAEmpty = ua == ""
	uaLower := strings.ToLower(ua)
	fv.UAKnownBad = containsAny(uaLower, e.knownBad)
	fv.UAKnownBenign = containsAny(uaLower, e.knownBenign)

	path := meta.Path
	fv.PathLength = len(path)
	fv.PathDepth = pathDepth(path)
	fv.PathDisallowed = e.pathDisallowed(path)

	fv.Method = strings.ToUpper(strings.TrimSpace(meta.Method))
	if fv.Method == "" {
		fv.Method = domain.UnknownCategorical
	}

	fv.HasReferer = meta.Referer != ""
	fv.RefererDomain = refererDomain(meta.Referer)

	fv.HeaderCount = len(meta.Headers)
	fv.HasAcceptLanguage = hasHeader(meta.Headers, "Accept-Language")
	fv.HasAcceptEncoding = hasHeader(meta.Headers, "Accept-Encoding")
	fv.HasCookie = hasHeader(meta.Headers, "Cookie")

	if ts, ok := parseTimestamp(meta.Timestamp); ok {
		utc := ts.UTC()
		fv.HourOfDay = utc.Hour()
		fv.DayOfWeek = int(utc.Weekday())
	} else {
		fv.HourOfDay = domain.UnknownNumeric
		fv.DayOfWeek = domain.UnknownNumeric
	}

	return fv
}

// parseTimestamp accepts RFC3339 and the common space-separated variant.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (e *Extractor) pathDisallowed(path string) bool {
	p := strings.ToLower(path)
	for _, prefix := range e.disallowedPaths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// pathDepth counts non-empty segments: "/a/b/c" has depth 3, "/" depth 0.
func pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func refererDomain(referer string) string {
	if referer == "" {
		return domain.UnknownCategorical
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return domain.UnknownCategorical
	}
	return strings.ToLower(u.Hostname())
}

func hasHeader(headers map[string]string, name string) bool {
	if headers == nil {
		return false
	}
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func containsAny(s string, substrings []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
