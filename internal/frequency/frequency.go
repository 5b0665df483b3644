// Package frequency tracks per-client request rates over a sliding window.
package frequency

import (
	"fmt"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// New creates a frequency tracker based on configuration.
// "memory" keeps windows in-process; "redis" shares them across nodes.
func New(cfg domain.FrequencyConfig) (domain.FrequencyTracker, error) {
	switch cfg.Store {
	case "memory":
		return NewMemoryTracker(cfg), nil

	case "redis":
		return NewRedisTracker(cfg)

	default:
		return nil, fmt.Errorf("unsupported frequency store: %s", cfg.Store)
	}
}
