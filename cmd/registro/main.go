package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"registro/internal/amqp"
	"registro/internal/config"
	apphttp "registro/internal/http"
	applog "registro/internal/log"
	"registro/internal/model"
	"registro/internal/services"
	"registro/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	// A broker outage must not keep the tracker from serving requests.
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		slog.Warn("AMQP unavailable, mirroring disabled", "error", err)
		amqpClient = nil
	} else {
		defer amqpClient.Close()
	}

	store := model.NewStore()
	service := services.NewTrackerService(store, repo, amqpClient)

	// Seed before any listener registration so restoring persisted state
	// produces no fan-out.
	if err := service.Seed(ctx); err != nil {
		return err
	}

	srv := apphttp.NewServer(":"+cfg.Port, service)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	if amqpClient != nil {
		store.Register(amqp.NewNotifier(amqpClient))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting registro server", "port", cfg.Port, "db_path", cfg.SQLiteDBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
