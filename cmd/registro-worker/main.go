package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"registro/internal/amqp"
	"registro/internal/config"
	applog "registro/internal/log"
	"registro/internal/sheets"
	gsheet "registro/internal/sheets/google"
	mem "registro/internal/sheets/memory"
	"registro/internal/storage"
	"registro/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	slog.Info("Starting registro-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	var writer sheets.TransactionWriter
	switch cfg.MirrorTarget {
	case "sheets":
		cli, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			return err
		}
		writer = cli
		slog.Info("Mirroring to Google Sheets", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	default:
		writer = mem.New()
		slog.Info("Mirroring to in-memory target")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer amqpClient.Close()

	mirror := worker.NewMirrorWorker(repo, writer, cfg.MirrorBatchSize)

	// Catch up on anything recorded while the worker was down.
	slog.Info("Performing startup mirror check...")
	if err := mirror.StartupCheck(ctx); err != nil {
		slog.Error("Startup mirror check failed", "error", err)
		// Keep running; the periodic pass will retry.
	}

	handlers := amqp.Handlers{
		OnRecorded: mirror.HandleRecordedMessage,
		OnDeleted:  mirror.HandleDeletedMessage,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := amqpClient.ConsumeWithRetry(ctx, handlers)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Periodic sweep for messages the broker never delivered.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.MirrorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := mirror.ProcessPending(ctx); err != nil {
					slog.Error("Periodic mirror pass failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}
