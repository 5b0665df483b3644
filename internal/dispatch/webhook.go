package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/gateway"
	"github.com/openbotdefense/kestrel/internal/metrics"
)

// WebhookWorker consumes the escalation topic and delivers each event to
// the configured webhook. Without a URL it runs in log-only mode, which
// keeps the pipeline observable in development.
type WebhookWorker struct {
	bus     domain.EventBus
	client  *http.Client
	url     string
	timeout time.Duration
	logger  *slog.Logger
	sub     domain.Subscription
}

// NewWebhookWorker creates the worker. Delivery uses a bounded per-event
// timeout so a slow sink cannot back the subscription buffer up forever.
func NewWebhookWorker(bus domain.EventBus, cfg domain.WebhookConfig, logger *slog.Logger) *WebhookWorker {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &WebhookWorker{
		bus:     bus,
		client:  &http.Client{Timeout: timeout},
		url:     cfg.URL,
		timeout: timeout,
		logger:  logger,
	}
}

// Start subscribes to the escalation topic.
func (w *WebhookWorker) Start(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, domain.TopicEscalation, w.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to escalation topic: %w", err)
	}
	w.sub = sub

	if w.url == "" {
		w.logger.Warn("no webhook URL configured, escalations will only be logged")
	}
	return nil
}

// Stop unsubscribes from the escalation topic.
func (w *WebhookWorker) Stop() {
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
}

func (w *WebhookWorker) handle(ctx context.Context, msg *domain.Message) error {
	if w.url == "" {
		w.logger.Info("escalation event", "payload", string(msg.Payload))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.deliver(ctx, msg.Payload); err != nil {
		w.logger.Error("webhook delivery failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// deliver posts the raw event payload. Any non-2xx status counts as a
// failed delivery.
func (w *WebhookWorker) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		metrics.DependencyFailures.WithLabelValues("webhook", metrics.KindUnexpected).Inc()
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.DependencyFailures.WithLabelValues("webhook", gateway.FailKind(err)).Inc()
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.DependencyFailures.WithLabelValues("webhook", metrics.KindStatus).Inc()
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
