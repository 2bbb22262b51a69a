// Package main runs the scheduled bulk refresh as its own process, sharing the
// document store with the API server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funnel-metrics/internal/circuitbreaker"
	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/monitoring"
	"github.com/funnel-metrics/internal/service"
	"github.com/funnel-metrics/internal/storage"
	"github.com/funnel-metrics/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Refresh once and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "refresh-worker")

	if cfg.Store.Backend == "memory" {
		logger.Warn("STORE_BACKEND is memory; refreshed metrics are not visible to other processes")
	}

	store, err := storage.NewDocumentStore(&cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open document store")
	}
	defer store.Close()

	registry := service.NewRegistry(service.NewConnectors(cfg.Connectors))
	breakers := circuitbreaker.NewManager(&circuitbreaker.Config{
		MaxConsecutiveFailures: cfg.Circuit.MaxConsecutiveFailures,
		OpenTimeout:            cfg.Circuit.OpenTimeout,
	})
	aggregator := service.NewAggregator(registry, breakers, monitoring.NewProvider(false))
	dashboard := service.NewDashboardService(
		registry,
		aggregator,
		storage.NewCredentialRepository(store),
		storage.NewMetricsRepository(store),
	)

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	interval := cfg.Refresh.Interval
	if interval == 0 {
		interval = 6 * time.Hour
	}
	refresher, err := worker.NewRefreshWorker(&worker.RefreshWorkerConfig{
		Syncer:     dashboard,
		Interval:   interval,
		RunOnStart: true,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create refresh worker")
	}

	if *once {
		if err := refresher.RunOnce(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := refresher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start refresh worker")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down refresh worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := refresher.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Refresh worker did not stop cleanly")
	}

	status := refresher.GetStatus()
	logger.WithFields(map[string]interface{}{
		"runs":       status.Runs,
		"last_error": status.LastError,
	}).Info("Refresh worker exited")
}
