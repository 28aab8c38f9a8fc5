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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"linkvault/internal/archive"
	"linkvault/internal/bot"
	"linkvault/internal/cleanup"
	"linkvault/internal/collections"
	"linkvault/internal/config"
	"linkvault/internal/lock"
	"linkvault/internal/metrics"
	"linkvault/internal/search"
	"linkvault/internal/storage"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("Invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"store_backend":   cfg.StoreBackend,
		"archive_backend": cfg.ArchiveBackend,
		"redis":           cfg.RedisAddr != "",
	}).Info("Configuration loaded successfully")

	// --- Initialize Components ---
	log.Info("Initializing components...")

	repo, err := openRepository(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		log.Info("Closing database...")
		if err := repo.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()

	index, err := search.NewSQLiteIndex(cfg.SearchDBPath, cfg.SearchBatchSize, log)
	if err != nil {
		log.Fatalf("Failed to initialize search index: %v", err)
	}
	defer index.Close()

	store, err := openArchive(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize archive store: %v", err)
	}

	locker, closeLocker, err := openLocker(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize locker: %v", err)
	}
	defer closeLocker()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	dispatcher := cleanup.NewDispatcher(index, store, cleanup.Options{
		Workers:     cfg.CleanupWorkers,
		QueueSize:   cfg.CleanupQueueSize,
		TaskTimeout: cfg.CleanupTaskTimeout,
	}, log)

	service := collections.NewService(repo, dispatcher, locker, log)

	capturer := archive.NewRodCapturer(cfg.CaptureTimeout, log)
	library := bot.NewLibrary(repo, index, store, capturer, locker, cfg.CaptureTimeout, log)

	botHandler, err := bot.NewHandler(cfg, library, service, log)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot handler: %v", err)
	}

	// --- Application Startup ---
	log.Info("Starting LinkVault...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	go botHandler.Start(ctx)

	log.Info("LinkVault is running. Press Ctrl+C to exit.")

	// --- Wait for Shutdown Signal ---
	<-ctx.Done()

	// --- Graceful Shutdown ---
	log.Info("Shutting down LinkVault...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error stopping metrics server")
	}

	// Captures write through the store and index; let them finish first.
	library.Wait()
	dispatcher.Close()

	log.Info("LinkVault shut down gracefully.")
}

func openRepository(cfg config.Config, log logrus.FieldLogger) (storage.Repository, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return storage.NewPostgresRepository(cfg.DatabaseURL, log)
	default:
		return storage.NewBadgerRepository(cfg.BadgerDBPath, log, storage.WithMaxRetries(cfg.TxMaxRetries))
	}
}

func openArchive(cfg config.Config, log logrus.FieldLogger) (archive.Store, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveMinIO:
		return archive.NewMinIOStore(archive.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
		}, log)
	default:
		return archive.NewFSStore(cfg.ArchiveDir, log), nil
	}
}

func openLocker(cfg config.Config, log logrus.FieldLogger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLocker(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	return lock.NewRedisLocker(client, "linkvault:lock:", cfg.LockTTL, log), func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("Error closing redis client")
		}
	}, nil
}
