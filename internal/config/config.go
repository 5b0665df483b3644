// Package config loads the Kestrel configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// Load reads kestrel.yaml (working directory, ./config or /etc/kestrel) and
// KESTREL_-prefixed environment variables into a Config. A missing config
// file is not an error; defaults apply.
func Load() (*domain.Config, error) {
	v := viper.New()

	v.SetConfigName("kestrel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kestrel")

	v.SetEnvPrefix("KESTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := domain.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would make the cascade misbehave.
func Validate(cfg *domain.Config) error {
	if cfg.Escalation.LowThreshold >= cfg.Escalation.HighThreshold {
		return fmt.Errorf("escalation.lowThreshold (%v) must be below highThreshold (%v)",
			cfg.Escalation.LowThreshold, cfg.Escalation.HighThreshold)
	}
	if cfg.Captcha.Enabled && cfg.Captcha.LowBand >= cfg.Captcha.HighBand {
		return fmt.Errorf("captcha.lowBand (%v) must be below highBand (%v)",
			cfg.Captcha.LowBand, cfg.Captcha.HighBand)
	}
	if cfg.Frequency.WindowSeconds <= 0 {
		return fmt.Errorf("frequency.windowSeconds must be positive, got %d", cfg.Frequency.WindowSeconds)
	}
	if cfg.IPReputation.Enabled && cfg.IPReputation.URL == "" {
		return fmt.Errorf("ipReputation.url is required when ipReputation.enabled")
	}
	if cfg.ExternalAPI.Enabled && cfg.ExternalAPI.URL == "" {
		return fmt.Errorf("externalApi.url is required when externalApi.enabled")
	}
	switch cfg.Scoring.ModelBackend {
	case "logit", "none":
	case "service":
		if cfg.Scoring.ModelURL == "" {
			return fmt.Errorf("scoring.modelUrl is required for the service model backend")
		}
	default:
		return fmt.Errorf("unsupported scoring.modelBackend: %s", cfg.Scoring.ModelBackend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("escalation.highThreshold", 0.8)
	v.SetDefault("escalation.lowThreshold", 0.2)

	v.SetDefault("captcha.enabled", false)
	v.SetDefault("captcha.lowBand", 0.2)
	v.SetDefault("captcha.highBand", 0.5)

	v.SetDefault("frequency.store", "memory")
	v.SetDefault("frequency.windowSeconds", 300)
	v.SetDefault("frequency.graceSeconds", 60)
	v.SetDefault("frequency.redisAddr", "localhost:6379")
	v.SetDefault("frequency.redisDb", 0)

	v.SetDefault("ipReputation.enabled", false)
	v.SetDefault("ipReputation.bonus", 0.3)
	v.SetDefault("ipReputation.minMaliciousScore", 0.5)
	v.SetDefault("ipReputation.timeoutSeconds", 2)

	v.SetDefault("localInference.enabled", false)
	v.SetDefault("localInference.baseUrl", "http://localhost:8000/v1")
	v.SetDefault("localInference.model", "kestrel-classifier")
	v.SetDefault("localInference.timeoutSeconds", 5)

	v.SetDefault("externalApi.enabled", false)
	v.SetDefault("externalApi.timeoutSeconds", 5)

	v.SetDefault("scoring.modelBackend", "logit")
	v.SetDefault("scoring.modelTimeoutSeconds", 2)

	v.SetDefault("webhook.timeoutSeconds", 5)

	v.SetDefault("eventBus.type", "channel")
	v.SetDefault("eventBus.channelBufferSize", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "kestrel")
}
