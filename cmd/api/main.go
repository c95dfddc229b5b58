// Package main is the entry point of the program tree HTTP API.
//
// The API serves tree edition (attach, detach, move, link and prerequisite
// updates), version management with postponement, and the adjacency
// traversals used by the other services of the registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/osis-hub/program-hub/config"
	"github.com/osis-hub/program-hub/internal/app"
	httpapi "github.com/osis-hub/program-hub/internal/interface/http"
	"github.com/osis-hub/program-hub/internal/interface/http/handlers"
	"github.com/osis-hub/program-hub/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.App.LogLevel),
		Service:   cfg.App.Name,
		AddCaller: cfg.IsDevelopment(),
	})
	log.Info("starting program hub API", startupFields(cfg)...)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. APPLICATION
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if a.Database != nil {
		health.AddCheck("postgres", handlers.NewPingCheck(a.Database))
	}
	if a.Cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(a.Cache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	serverCfg.EnableCORS = cfg.HTTP.EnableCORS
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.EnableMetrics = cfg.Metrics.Enabled
	serverCfg.MetricsPath = cfg.Metrics.Path
	serverCfg.Version = cfg.App.Version

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		Commands:      a.Commands,
		Queries:       a.Queries,
		HealthChecker: health,
		Logger:        log,
	})
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return errors.New("HTTP server stopped unexpectedly")
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

func startupFields(cfg *config.Config) []logger.Field {
	return []logger.Field{
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", cfg.StorageDriver),
	}
}
