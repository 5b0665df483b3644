package domain

// Sentinel values used when a feature cannot be derived (e.g. an unparsable
// timestamp).
const (
	UnknownNumeric     = -1
	UnknownCategorical = "UNKNOWN"
)

// FeatureVector holds the derived signals for one request. Computed once per
// request from RequestMetadata plus a FrequencySnapshot; consumed by the
// risk scorer and the model backends.
type FeatureVector struct {
	// User agent shape
	UALength      int  `json:"uaLength"`
	UAEmpty       bool `json:"uaEmpty"`
	UAKnownBad    bool `json:"uaKnownBad"`
	UAKnownBenign bool `json:"uaKnownBenign"`

	// Path shape
	PathLength     int  `json:"pathLength"`
	PathDepth      int  `json:"pathDepth"`
	PathDisallowed bool `json:"pathDisallowed"`

	// Request shape
	Method            string `json:"method"`
	HasReferer        bool   `json:"hasReferer"`
	RefererDomain     string `json:"refererDomain"`
	HeaderCount       int    `json:"headerCount"`
	HasAcceptLanguage bool   `json:"hasAcceptLanguage"`
	HasAcceptEncoding bool   `json:"hasAcceptEncoding"`
	HasCookie         bool   `json:"hasCookie"`

	// Temporal (UTC; UnknownNumeric when the timestamp does not parse)
	HourOfDay int `json:"hourOfDay"`
	DayOfWeek int `json:"dayOfWeek"`

	// Frequency (copied from the snapshot)
	FreqCount        int64   `json:"freqCount"`
	SecondsSinceLast float64 `json:"secondsSinceLast"`
}

// FrequencySnapshot is the per-client recent-activity view read from the
// frequency store. Count covers only events prior to the one being recorded.
type FrequencySnapshot struct {
	Count            int64   `json:"count"`
	SecondsSinceLast float64 `json:"secondsSinceLast"` // -1 if fewer than 2 events
}

// ZeroSnapshot is the fail-open snapshot used when the frequency store is
// unreachable.
func ZeroSnapshot() FrequencySnapshot {
	return FrequencySnapshot{Count: 0, SecondsSinceLast: UnknownNumeric}
}
