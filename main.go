package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"smartpark/cache"
	"smartpark/config"
	"smartpark/db"
	shttp "smartpark/http"
	"smartpark/logger"
	"smartpark/ml"
	"smartpark/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file (optional)")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Load the model once; it is read-only afterwards
	artifact, err := ml.LoadModel(cfg.Model.Type, cfg.Model.Path)
	if err != nil {
		log.Fatal("failed to load model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	log.Info("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.String("run_id", artifact.RunID),
		zap.Stringer("params", artifact.BestParams),
		zap.Float64("test_mse", artifact.TestMSE))

	// 3. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)
	metrics.SetModel(artifact.RunID, artifact.FormatVersion)

	deps := shttp.Dependencies{
		Artifact: artifact,
		Metrics:  metrics,
		Gatherer: registry,
		Logger:   log,
	}

	// 4. Optional training ledger and prediction cache
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			log.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer store.Close()
		deps.Runs = store
		log.Info("training ledger opened", zap.String("path", cfg.Database.Path))
	}

	predictionCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		log.Fatal("failed to set up prediction cache", zap.String("backend", cfg.Cache.Backend), zap.Error(err))
	}
	deps.Cache = predictionCache
	if rc, ok := predictionCache.(*cache.RedisCache); ok {
		defer rc.Close()
	}

	// 5. Report (but do not apply) artifact changes
	events := monitoring.NewEventHub(cfg.Server.AllowedOrigins, log)
	events.SetModel(map[string]interface{}{
		"run_id":         artifact.RunID,
		"format_version": artifact.FormatVersion,
		"trained_at":     artifact.TrainedAt,
	})
	go events.Run(ctx, 30*time.Second)
	deps.Events = events

	err = monitoring.WatchArtifact(ctx, cfg.Model.Path, log, func(e fsnotify.Event) {
		metrics.ArtifactStale.Set(1)
		events.Publish(monitoring.EventArtifactChanged, map[string]string{
			"path": e.Name,
			"op":   e.Op.String(),
		})
	})
	if err != nil {
		log.Warn("artifact watcher disabled", zap.Error(err))
	}

	// 6. Start HTTP server
	server, err := shttp.NewServer(shttp.ServerConfig{
		Port:           cfg.Server.Port,
		Timeout:        cfg.Server.Timeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, deps)
	if err != nil {
		log.Fatal("failed to create server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 7. Handle graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("exiting")
}
