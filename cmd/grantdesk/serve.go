package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/grantdesk/internal/api"
	"github.com/nugget/grantdesk/internal/buildinfo"
	"github.com/nugget/grantdesk/internal/mqtt"
)

// runServe starts the API server and blocks until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels ctx, which cancels in-flight turns
//  2. MQTT publishes "offline" and disconnects
//  3. The HTTP server drains
//  4. Dependency watchers stop
//  5. Conversations whose durable write is still failing are logged
//  6. Databases and the cache connection are closed
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Grantdesk", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"cache", cfg.Cache.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	// --- Dependency health ---
	// Checks the durable database, redis, and the document store; feeds
	// /health and publishes up/down transitions on the bus.
	health := a.watch(ctx, logger)

	server := api.NewServer(api.Config{
		Address:       listenAddress(cfg),
		Runner:        a.loop,
		Conversations: a.store,
		Router:        a.router,
		Usage:         a.usage,
		Bus:           a.bus,
		Health:        health,
		Logger:        logger,
	})

	// --- MQTT forwarder ---
	// Optional: republishes bus events for dashboards and alerting.
	var forwarder *mqtt.Forwarder
	if cfg.MQTT.Configured() {
		forwarder = mqtt.New(cfg.MQTT, a.bus, logger)
		go func() {
			if err := forwarder.Start(ctx); err != nil {
				logger.Error("mqtt forwarder failed", "error", err)
			}
		}()
		logger.Info("mqtt forwarding enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt forwarding disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if forwarder != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := forwarder.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	health.Stop()

	if pending := a.store.Pending(); len(pending) > 0 {
		logger.Warn("conversations not yet written to the durable tier",
			"count", len(pending), "conversation_ids", pending)
	}
	logger.Info("Grantdesk stopped")
	return nil
}
