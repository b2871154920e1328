package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/detectai/backend/internal/queue"
)

// RetryDelay is the fixed backoff between completion attempts.
const RetryDelay = 3 * time.Second

type CompletionValidator interface {
	ValidatePredictResult(doc json.RawMessage) error
}

// CompletionWorker consumes detect_ai.predict_result jobs.
type CompletionWorker struct {
	river.WorkerDefaults[queue.CompletionArgs]
	reconciler *Reconciler
	validator  CompletionValidator
}

func NewCompletionWorker(r *Reconciler, v CompletionValidator) *CompletionWorker {
	return &CompletionWorker{reconciler: r, validator: v}
}

func (w *CompletionWorker) NextRetry(*river.Job[queue.CompletionArgs]) time.Time {
	return time.Now().Add(RetryDelay)
}

func (w *CompletionWorker) Work(ctx context.Context, job *river.Job[queue.CompletionArgs]) error {
	if w.validator != nil {
		doc, err := json.Marshal(job.Args)
		if err != nil {
			return river.JobCancel(fmt.Errorf("encode completion: %w", err))
		}
		if err := w.validator.ValidatePredictResult(doc); err != nil {
			w.reconciler.Logger.Error("rejecting malformed completion", "log_id", job.Args.LogID, "error", err)
			if job.Args.LogID > 0 {
				// Leave the job retryable if the log could not be settled.
				if rerr := w.reconciler.Reject(ctx, job.Args.LogID); rerr != nil {
					return fmt.Errorf("settle rejected completion: %w", rerr)
				}
			}
			return river.JobCancel(err)
		}
	}
	return w.reconciler.Complete(ctx, job.Args)
}
