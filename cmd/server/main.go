// Package main provides the API server entry point for the funnel metrics service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/funnel-metrics/internal/api"
	"github.com/funnel-metrics/internal/circuitbreaker"
	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/monitoring"
	"github.com/funnel-metrics/internal/service"
	"github.com/funnel-metrics/internal/storage"
	"github.com/funnel-metrics/internal/worker"
)

func main() {
	fmt.Println("Funnel Metrics API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// The documents table has to exist before the first read
	if cfg.Store.Backend == "postgres" {
		logger.Info("Applying Postgres migrations...")
		if err := storage.RunMigrations(cfg.Store.Postgres.DSN()); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
	}

	store, err := storage.NewDocumentStore(&cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open document store")
	}
	defer store.Close()

	logger.WithField("backend", cfg.Store.Backend).Info("Document store ready")

	credentialRepo := storage.NewCredentialRepository(store)
	metricsRepo := storage.NewMetricsRepository(store)

	monitor := monitoring.NewProvider(cfg.Metrics.Enabled)

	registry := service.NewRegistry(service.NewConnectors(cfg.Connectors))
	breakers := circuitbreaker.NewManager(&circuitbreaker.Config{
		MaxConsecutiveFailures: cfg.Circuit.MaxConsecutiveFailures,
		OpenTimeout:            cfg.Circuit.OpenTimeout,
	})
	aggregator := service.NewAggregator(registry, breakers, monitor)
	dashboard := service.NewDashboardService(registry, aggregator, credentialRepo, metricsRepo)

	server := api.NewServer(&cfg.Server, dashboard, monitor)

	// Optional in-process scheduled refresh
	var refresher *worker.RefreshWorker
	if cfg.Refresh.Interval > 0 {
		refresher, err = worker.NewRefreshWorker(&worker.RefreshWorkerConfig{
			Syncer:   dashboard,
			Interval: cfg.Refresh.Interval,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create refresh worker")
		}
		if err := refresher.Start(context.Background()); err != nil {
			logger.WithError(err).Fatal("Failed to start refresh worker")
		}
	}

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"metrics": cfg.Metrics.Enabled,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if refresher != nil {
		if err := refresher.Stop(ctx); err != nil {
			logger.WithError(err).Warn("Refresh worker did not stop cleanly")
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
