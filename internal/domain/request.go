package domain

// RequestMetadata describes one suspicious inbound request as forwarded by
// the honeypot proxy. It is immutable once built and discarded after the
// decision is returned.
type RequestMetadata struct {
	// Timestamp is kept as received (ISO8601/RFC3339); parsing happens in
	// the feature extractor so a malformed value degrades to sentinels
	// instead of rejecting the request.
	Timestamp string            `json:"timestamp"`
	IP        string            `json:"ip"`
	UserAgent string            `json:"user_agent"`
	Referer   string            `json:"referer,omitempty"`
	Path      string            `json:"path,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	// Source tags the upstream component that forwarded the request
	// (e.g. "honeypot", "proxy", "tarpit").
	Source string `json:"source"`
}

// ClientKey returns the key under which this request's client is tracked in
// the frequency store.
func (m *RequestMetadata) ClientKey() string {
	return m.IP
}
