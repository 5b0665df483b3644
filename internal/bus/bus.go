// Package bus provides the event bus carrying decisions and escalations.
package bus

import (
	"fmt"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// New creates an event bus based on configuration. "channel" keeps events
// in-process; "nats" fans them out to other consumers.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
