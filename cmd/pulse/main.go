package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	corecfg "github.com/pulse-lab/project-pulse/internal/core/config"
	"github.com/pulse-lab/project-pulse/internal/core/storage/postgres"
	"github.com/pulse-lab/project-pulse/internal/ingestion"
	"github.com/pulse-lab/project-pulse/internal/metrics"
	"github.com/pulse-lab/project-pulse/internal/migrations"
	"github.com/pulse-lab/project-pulse/internal/pipeline"
	"github.com/pulse-lab/project-pulse/internal/queue"
	"github.com/pulse-lab/project-pulse/internal/server"
)

func main() {
	configPath := flag.String("config", "pulse.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	flushInterval, err := cfg.Ingestion.FlushIntervalDuration()
	if err != nil {
		slog.Error("Invalid flush interval", "value", cfg.Ingestion.FlushInterval, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Metrics
	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewRecorder(registry)

	// 4. Build the Processing Pipeline
	pipe := pipeline.New(pipeline.Options{
		ContinueOnError: cfg.Pipeline.ContinueOnError,
		SubBatchSize:    cfg.Pipeline.SubBatchSize,
	})
	pipe.Use(
		pipeline.LoggingStage(logger),
		pipeline.DeviceEnrichStage(pipeline.ParseUserAgent),
	)

	if cfg.Pipeline.RateLimit.Enabled {
		window, err := cfg.Pipeline.RateLimit.WindowDuration()
		if err != nil {
			slog.Error("Invalid rate limit window", "value", cfg.Pipeline.RateLimit.Window, "error", err)
			os.Exit(1)
		}
		limiter := pipeline.NewRateLimiter(cfg.Pipeline.RateLimit.MaxEvents, window)
		pipe.Use(pipeline.RateLimitStage(limiter, func(e *v1.Event) string {
			if e.UserID != "" {
				return e.UserID
			}
			return e.Source
		}))
		slog.Info("Rate limiting enabled",
			"max_events", cfg.Pipeline.RateLimit.MaxEvents,
			"window", window)
	}

	// 5. Initialize Ingestion Service
	ingestionSvc := ingestion.NewService(ingestion.Config{
		SourceName:      cfg.Ingestion.SourceName,
		BatchingEnabled: cfg.Ingestion.BatchingEnabled,
		BatchSize:       cfg.Ingestion.BatchSize,
		ChunkSize:       cfg.Ingestion.ChunkSize,
		FlushInterval:   flushInterval,
		ValidateEvents:  cfg.Ingestion.ValidateEvents,
		MaxRetries:      cfg.Ingestion.MaxRetries,
	}, dbAdapter, pipe, recorder)

	// 6. Initialize Queue Controller (async batch ingestion path)
	queueCtrl := queue.NewController(queue.Config{
		Concurrency: cfg.Queue.Concurrency,
		BatchSize:   cfg.Queue.BatchSize,
	}, ingestionSvc)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode, registry)
	api := ingestion.NewAPI(ingestionSvc, queueCtrl, cfg.Server.MaxBodySizeMB)
	api.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Drain the async queue, then flush the pending batch.
	queueCtrl.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := ingestionSvc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ingestion shutdown failed", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
