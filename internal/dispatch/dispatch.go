// Package dispatch forwards escalation verdicts to the alert webhook. The
// cascade publishes an event to the bus and returns immediately; a worker
// drains the topic and performs the HTTP delivery off the decision path.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// BusDispatcher publishes escalation events to the event bus.
type BusDispatcher struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given bus.
func NewDispatcher(bus domain.EventBus, logger *slog.Logger) *BusDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusDispatcher{bus: bus, logger: logger}
}

// Dispatch envelopes the verdict and publishes it. Fire-and-forget: a bus
// failure is logged but never surfaces to the classification caller.
func (d *BusDispatcher) Dispatch(meta *domain.RequestMetadata, tag domain.ReasonTag, reason string) {
	event := domain.EscalationEvent{
		EventType:    domain.EventTypeBotDetected,
		Reason:       reason,
		ReasonTag:    tag,
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
		Details:      meta,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("failed to marshal escalation event",
			"reason_tag", tag,
			"error", err,
		)
		return
	}

	if err := d.bus.Publish(context.Background(), domain.TopicEscalation, payload); err != nil {
		d.logger.Error("failed to publish escalation event",
			"reason_tag", tag,
			"error", err,
		)
	}
}
