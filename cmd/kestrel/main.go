// Kestrel - Escalation decision engine for scraping defense.
// Copyright (c) 2025 openbotdefense
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbotdefense/kestrel/internal/api"
	"github.com/openbotdefense/kestrel/internal/bus"
	"github.com/openbotdefense/kestrel/internal/cascade"
	"github.com/openbotdefense/kestrel/internal/config"
	"github.com/openbotdefense/kestrel/internal/dispatch"
	"github.com/openbotdefense/kestrel/internal/domain"
	"github.com/openbotdefense/kestrel/internal/features"
	"github.com/openbotdefense/kestrel/internal/frequency"
	"github.com/openbotdefense/kestrel/internal/gateway"
	"github.com/openbotdefense/kestrel/internal/metrics"
	"github.com/openbotdefense/kestrel/internal/scoring"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration first; logging setup depends on it.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"frequency_store", cfg.Frequency.Store,
		"eventbus", cfg.EventBus.Type,
		"model_backend", cfg.Scoring.ModelBackend,
		"reputation_enabled", cfg.IPReputation.Enabled,
		"local_inference_enabled", cfg.LocalInference.Enabled,
		"external_api_enabled", cfg.ExternalAPI.Enabled,
	)

	metrics.Init()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize frequency tracker
	tracker, err := frequency.New(cfg.Frequency)
	if err != nil {
		slog.Error("failed to initialize frequency tracker", "error", err)
		os.Exit(1)
	}
	defer tracker.Close()
	slog.Info("frequency tracker initialized",
		"store", cfg.Frequency.Store,
		"window_seconds", cfg.Frequency.WindowSeconds,
	)

	// Initialize event bus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize scorer (compiles extension rules, resolves model backend)
	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		slog.Error("failed to initialize scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("scorer initialized",
		"model_backend", scorer.ModelName(),
		"extension_rules", len(scorer.Rules()),
	)

	// Initialize optional gateways
	deps := cascade.Deps{
		Tracker:    tracker,
		Extractor:  features.NewExtractor(cfg.Scoring),
		Scorer:     scorer,
		Dispatcher: dispatch.NewDispatcher(busImpl, logger),
		Logger:     logger,
	}
	if cfg.IPReputation.Enabled {
		deps.Reputation = gateway.NewReputation(cfg.IPReputation)
		slog.Info("ip reputation gateway enabled", "url", cfg.IPReputation.URL)
	}
	if cfg.LocalInference.Enabled {
		deps.LocalLLM = gateway.NewLocalLLM(cfg.LocalInference)
		slog.Info("local inference gateway enabled",
			"base_url", cfg.LocalInference.BaseURL,
			"model", cfg.LocalInference.Model,
		)
	}
	if cfg.ExternalAPI.Enabled {
		deps.External = gateway.NewExternal(cfg.ExternalAPI)
		slog.Info("external api gateway enabled", "url", cfg.ExternalAPI.URL)
	}

	engine := cascade.New(cfg, deps)
	slog.Info("decision engine initialized", "engine_version", cascade.EngineVersion)

	// Start the webhook worker draining the escalation topic
	webhookWorker := dispatch.NewWebhookWorker(busImpl, cfg.Webhook, logger)
	if err := webhookWorker.Start(ctx); err != nil {
		slog.Error("failed to start webhook worker", "error", err)
		os.Exit(1)
	}
	defer webhookWorker.Stop()

	// Initialize server
	srv := api.NewServer(cfg.Server, engine, tracker, busImpl, scorer, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  kestrel - escalation decision engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /classify  - Classify a forwarded request")
	fmt.Println("    GET  /rules     - List extension rules")
	fmt.Println("    GET  /health    - Health check")
	fmt.Println("    GET  /ready     - Readiness check")
	fmt.Println("    GET  /metrics   - Prometheus metrics")
	fmt.Println()
}
