package domain

// Config holds the complete Kestrel configuration. It is assembled by the
// config loader and passed into components at construction; the core never
// reads configuration sources itself.
type Config struct {
	Server ServerConfig `json:"server"`

	// Decision thresholds
	Escalation EscalationConfig `json:"escalation"`
	Captcha    CaptchaConfig    `json:"captcha"`

	// Component configurations
	Frequency      FrequencyConfig      `json:"frequency"`
	IPReputation   IPReputationConfig   `json:"ipReputation"`
	LocalInference LocalInferenceConfig `json:"localInference"`
	ExternalAPI    ExternalAPIConfig    `json:"externalApi"`
	Scoring        ScoringConfig        `json:"scoring"`
	Webhook        WebhookConfig        `json:"webhook"`
	EventBus       EventBusConfig       `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EscalationConfig holds the score thresholds of the cascade.
type EscalationConfig struct {
	// HighThreshold and above escalates immediately as a bot verdict.
	HighThreshold float64 `json:"highThreshold"`

	// Below LowThreshold the request is classified human.
	LowThreshold float64 `json:"lowThreshold"`
}

// CaptchaConfig holds the interactive-challenge band. When the final score
// lands in [LowBand, HighBand) and triggering is enabled, the decision is
// deferred to the external CAPTCHA collaborator.
type CaptchaConfig struct {
	Enabled  bool    `json:"enabled"`
	LowBand  float64 `json:"lowBand"`
	HighBand float64 `json:"highBand"`
}

// FrequencyConfig holds sliding-window tracker settings.
type FrequencyConfig struct {
	// Store is "redis" or "memory".
	Store string `json:"store"`

	WindowSeconds int `json:"windowSeconds"`
	GraceSeconds  int `json:"graceSeconds"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDb"`
}

// IPReputationConfig holds the IP-reputation gateway settings.
type IPReputationConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`

	// Bonus is added to the risk score when the provider flags the IP.
	Bonus float64 `json:"bonus"`

	// MinMaliciousScore is the provider confidence below which a malicious
	// flag is ignored.
	MinMaliciousScore float64 `json:"minMaliciousScore"`

	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

// LocalInferenceConfig holds the local-inference gateway settings. The
// endpoint speaks the OpenAI chat-completions protocol (llama.cpp, vLLM,
// Ollama all qualify).
type LocalInferenceConfig struct {
	Enabled        bool    `json:"enabled"`
	BaseURL        string  `json:"baseUrl"`
	APIKey         string  `json:"apiKey"`
	Model          string  `json:"model"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

// ExternalAPIConfig holds the third-party classification gateway settings.
type ExternalAPIConfig struct {
	Enabled        bool    `json:"enabled"`
	URL            string  `json:"url"`
	APIKey         string  `json:"apiKey"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

// ScoringConfig holds the risk scorer settings.
type ScoringConfig struct {
	// ModelBackend selects the statistical model: "logit" (built-in
	// logistic model, no I/O), "service" (HTTP model server) or "none".
	ModelBackend        string  `json:"modelBackend"`
	ModelURL            string  `json:"modelUrl"`
	ModelTimeoutSeconds float64 `json:"modelTimeoutSeconds"`

	// UA substring lists (case-insensitive membership)
	KnownBadAgents    []string `json:"knownBadAgents"`
	KnownBenignAgents []string `json:"knownBenignAgents"`

	// Path prefixes disallowed by the honeypot's robots.txt
	DisallowedPaths []string `json:"disallowedPaths"`

	// ExtensionRules are operator-defined CEL expressions over the feature
	// vector, each contributing weight*value to the rule score.
	ExtensionRules []ExtensionRule `json:"extensionRules"`
}

// ExtensionRule is one operator-defined CEL scoring rule.
type ExtensionRule struct {
	ID         string  `json:"id"`
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
}

// WebhookConfig holds the escalation webhook settings.
type WebhookConfig struct {
	URL            string  `json:"url"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the default configuration: memory frequency store,
// channel bus, reputation and CAPTCHA disabled, built-in logit model.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Escalation: EscalationConfig{
			HighThreshold: 0.8,
			LowThreshold:  0.2,
		},
		Captcha: CaptchaConfig{
			Enabled:  false,
			LowBand:  0.2,
			HighBand: 0.5,
		},
		Frequency: FrequencyConfig{
			Store:         "memory",
			WindowSeconds: 300,
			GraceSeconds:  60,
			RedisAddr:     "localhost:6379",
		},
		IPReputation: IPReputationConfig{
			Enabled:           false,
			Bonus:             0.3,
			MinMaliciousScore: 0.5,
			TimeoutSeconds:    2,
		},
		LocalInference: LocalInferenceConfig{
			Enabled:        false,
			BaseURL:        "http://localhost:8000/v1",
			Model:          "kestrel-classifier",
			TimeoutSeconds: 5,
		},
		ExternalAPI: ExternalAPIConfig{
			Enabled:        false,
			TimeoutSeconds: 5,
		},
		Scoring: ScoringConfig{
			ModelBackend:        "logit",
			ModelTimeoutSeconds: 2,
			KnownBadAgents: []string{
				"python-requests", "python-urllib", "curl", "wget", "scrapy",
				"go-http-client", "httpclient", "libwww", "java/", "aiohttp",
			},
			KnownBenignAgents: []string{
				"googlebot", "bingbot", "duckduckbot", "yandexbot",
				"baiduspider", "applebot",
			},
			DisallowedPaths: []string{
				"/wp-admin", "/admin", "/.git", "/.env", "/xmlrpc.php",
			},
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 5,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}
