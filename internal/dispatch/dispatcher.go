// Package dispatch hands admitted predictions to the durable work queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/queue"
)

// PredictTask is one admitted prediction. LogID correlates the eventual
// completion with its usage log.
type PredictTask struct {
	Email    string
	ImageURL string
	LogID    int64
}

type Queue interface {
	EnqueuePredict(ctx context.Context, args queue.PredictArgs) error
}

type Dispatcher struct {
	Queue  Queue
	Logger *slog.Logger
}

func NewDispatcher(q Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Queue: q, Logger: logger}
}

// Submit enqueues the task and returns as soon as the queue has it.
func (d *Dispatcher) Submit(ctx context.Context, t PredictTask) error {
	err := d.Queue.EnqueuePredict(ctx, queue.PredictArgs{
		Email:    t.Email,
		ImageURL: t.ImageURL,
		LogID:    t.LogID,
	})
	if err != nil {
		d.Logger.Error("enqueue prediction failed", "log_id", t.LogID, "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrServiceUnavailable, err)
	}
	d.Logger.Info("prediction dispatched", "log_id", t.LogID)
	return nil
}
