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

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/detectai/backend/internal/admission"
	"github.com/detectai/backend/internal/auth"
	"github.com/detectai/backend/internal/config"
	"github.com/detectai/backend/internal/connections"
	"github.com/detectai/backend/internal/crypto"
	"github.com/detectai/backend/internal/database"
	"github.com/detectai/backend/internal/dispatch"
	"github.com/detectai/backend/internal/fanout"
	"github.com/detectai/backend/internal/handlers"
	"github.com/detectai/backend/internal/keys"
	"github.com/detectai/backend/internal/queue"
	"github.com/detectai/backend/internal/reconciler"
	"github.com/detectai/backend/internal/repository"
	"github.com/detectai/backend/internal/router"
	"github.com/detectai/backend/internal/validation"
	"github.com/detectai/backend/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL, int32(cfg.MaxWorkers+10))
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	rdb, err := fanout.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Cannot reach Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	bus := fanout.NewRedisBus(rdb)

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		slog.Error("Invalid ENCRYPTION_KEY", "error", err)
		os.Exit(1)
	}

	validator, err := validation.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := repository.NewUserRepo(db.Pool)
	apiKeyRepo := repository.NewAPIKeyRepo(db.Pool)
	usageLogRepo := repository.NewUsageLogRepo(db.Pool)
	historyRepo := repository.NewHistoryRepo(db.Pool)
	connRegistry := connections.NewRegistry(db.Pool, cfg.InstanceID)

	keySvc := keys.NewService(apiKeyRepo, usageLogRepo, sealer, cfg.MaxKeysPerUser)
	authSvc := auth.NewService(userRepo, keySvc, cfg.JWTSecret)

	// Completions come back on the app queue; predictions go out on the
	// worker queue, which this process never works.
	publisher := fanout.NewPublisher(connRegistry, bus, logger)
	rec := reconciler.New(userRepo, historyRepo, usageLogRepo, apiKeyRepo, publisher, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, reconciler.NewCompletionWorker(rec, validator))

	riverClient, err := river.NewClient(riverpgxv5.New(db.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			cfg.AppQueue: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:             workers,
		SkipUnknownJobCheck: true,
		Logger:              logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	jobQueue := queue.NewClient(riverClient, cfg.AppQueue, cfg.WorkerQueue)

	gate := admission.NewGate(keySvc, usageLogRepo, logger)
	dispatcher := dispatch.NewDispatcher(jobQueue, logger)

	handler := router.New(router.Deps{
		Auth:           auth.NewHandler(authSvc, logger),
		Sessions:       authSvc,
		APIKeys:        handlers.NewAPIKeyHandler(keySvc, logger),
		Predictions:    handlers.NewPredictionHandler(gate, dispatcher, validator, logger),
		History:        handlers.NewHistoryHandler(historyRepo, logger),
		Health:         handlers.Health(db.Pool),
		WebSocket:      ws.NewHandler(authSvc, connRegistry, bus, cfg.AllowedOrigins, logger),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	heartbeat := &connections.Heartbeat{
		Store:      connRegistry,
		InstanceID: cfg.InstanceID,
		Interval:   cfg.WSHeartbeatInterval,
		StaleAfter: cfg.WSStaleAfter,
		Logger:     logger,
	}
	heartbeatDone := make(chan struct{})
	go func() {
		heartbeat.Run(ctx)
		close(heartbeatDone)
	}()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", server.Addr, "instance_id", cfg.InstanceID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client stop", "error", err)
	}
	<-heartbeatDone
}
