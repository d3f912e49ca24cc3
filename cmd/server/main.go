package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pilab-dev/clinic-sync/config"
	"github.com/pilab-dev/clinic-sync/internal/app"
	"github.com/pilab-dev/clinic-sync/internal/telemetry"
	"github.com/pilab-dev/clinic-sync/log"
	"github.com/pilab-dev/clinic-sync/mongodb"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level := log.ParseLevel(cfg.LogLevel)
	log.SetupGlobal(level, cfg.LogPretty)
	appLogger := log.NewZerologAdapter(level, cfg.LogPretty)

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error(context.Background(), "clinic-sync server stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ServerConfig, appLogger log.Logger) error {
	ctx := context.Background()
	appLogger.Info(ctx, "Configuration loaded successfully", log.Fields{
		"http_port":          cfg.HTTPPort,
		"mongo_db_name":      cfg.MongoDBName,
		"credential_backend": cfg.CredentialBackend,
		"provider_base_url":  cfg.Provider.BaseURL,
		"sync_lock_lease":    cfg.SyncLockLease.String(),
	})
	if err := cfg.Provider.Validate(); err != nil {
		// The process still serves health and status; connect and sync calls fail until configured.
		appLogger.Warn(ctx, "Provider is not configured", log.Fields{"error": err.Error()})
	}

	otelProviders, err := telemetry.Start(ctx, cfg.OtelServiceName)
	if err != nil {
		return err
	}

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		return fmt.Errorf("init mongodb: %w", err)
	}
	db := mongodb.GetDB()

	repos, err := app.MongoRepositories(ctx, db)
	if err != nil {
		return err
	}
	credentials, closer, err := app.NewCredentialStore(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer closer.Close()

	application := app.New(cfg, repos, credentials, appLogger)
	if err := otelProviders.ExportMetrics(application.Registry); err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}

	httpServer := application.HTTPServer(cfg, appLogger, mongodb.Ping)
	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", sig))
	case runErr = <-serveErr:
		appLogger.Error(ctx, "HTTP server failed", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Telemetry shutdown error", err)
	}
	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
	return runErr
}
