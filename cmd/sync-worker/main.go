package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/api"
	"github.com/merchantpulse/sync-worker/internal/config"
	"github.com/merchantpulse/sync-worker/internal/database"
	"github.com/merchantpulse/sync-worker/internal/logger"
	"github.com/merchantpulse/sync-worker/internal/progress"
	"github.com/merchantpulse/sync-worker/internal/queue"
	"github.com/merchantpulse/sync-worker/internal/repository"
	"github.com/merchantpulse/sync-worker/internal/service"
	"github.com/merchantpulse/sync-worker/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Info("database ready")

	jobRepo := repository.NewSyncJobRepository(db)
	recordRepo := repository.NewRecordRepository(db)

	hub := progress.NewHub(log)
	q := queue.New(jobRepo, log)
	syncService := service.NewSyncService(cfg, recordRepo, jobRepo, hub, log)
	pool := worker.New(cfg, q, jobRepo, syncService, hub, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := q.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		pool.Run(ctx)
	}()

	handler := api.NewSyncHandler(q, jobRepo, hub, log)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(handler, log),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-workersDone
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}

	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Warn("workers did not drain before timeout")
	}
	log.Info("shutdown complete")
	return nil
}
