package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scadenze/internal/amqp"
	"scadenze/internal/cache"
	"scadenze/internal/config"
	applog "scadenze/internal/log"
	"scadenze/internal/services"
	"scadenze/internal/storage"
	"scadenze/internal/worker"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("SQLite repository ready", "path", cfg.SQLiteDBPath)

	// Event publishing is optional: without an AMQP URL the service simply
	// skips it.
	var events services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, continuing without sync events", "error", err)
		} else {
			events = amqpClient
			defer amqpClient.Close()
			logger.Info("AMQP client connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	service := services.NewObligationService(repo, cache.New(), events, services.MatchParams{
		WindowDays: cfg.MatchWindowDays,
		Limit:      cfg.MatchResultLimit,
	})

	syncWorker := worker.NewSyncWorker(service, repo, worker.Config{
		Interval:      cfg.SyncInterval,
		HorizonMonths: cfg.SyncHorizonMonths,
		Concurrency:   cfg.SyncConcurrency,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncWorker.Start(ctx); err != nil {
		logger.Error("Failed to start sync worker", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := syncWorker.Stop(shutdownCtx); err != nil {
		logger.Error("Worker shutdown error", "error", err)
	}

	logger.Info("Worker stopped gracefully")
}
