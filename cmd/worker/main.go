// Command worker runs the inference side of the prediction queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/detectai/backend/internal/config"
	"github.com/detectai/backend/internal/database"
	"github.com/detectai/backend/internal/execution"
	"github.com/detectai/backend/internal/queue"
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

	db, err := database.New(ctx, cfg.DatabaseURL, int32(cfg.MaxWorkers+2))
	if err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}

	// The predict worker needs the client to enqueue completions, and the
	// client needs the worker registered. The holder breaks the cycle.
	holder := &completionHolder{}
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewPredictWorker(holder, cfg.InferenceURL, cfg.InferenceTimeout, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(db.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			cfg.WorkerQueue: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:             workers,
		SkipUnknownJobCheck: true,
		Logger:              logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	holder.q = queue.NewClient(riverClient, cfg.AppQueue, cfg.WorkerQueue)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("Inference worker started", "queue", cfg.WorkerQueue, "inference_url", cfg.InferenceURL)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client stop", "error", err)
	}
}

type completionHolder struct {
	q *queue.Client
}

func (h *completionHolder) EnqueueCompletion(ctx context.Context, args queue.CompletionArgs) error {
	return h.q.EnqueueCompletion(ctx, args)
}
