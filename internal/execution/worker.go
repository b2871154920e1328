// Package execution runs predictions against the model server on behalf of
// the inference worker process.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/riverqueue/river"

	"github.com/detectai/backend/internal/models"
	"github.com/detectai/backend/internal/queue"
)

// CompletionQueue carries finished predictions back to the application.
type CompletionQueue interface {
	EnqueueCompletion(ctx context.Context, args queue.CompletionArgs) error
}

type PredictWorker struct {
	river.WorkerDefaults[queue.PredictArgs]
	completions  CompletionQueue
	inferenceURL string
	httpClient   *http.Client
	log          *slog.Logger
}

func NewPredictWorker(cq CompletionQueue, inferenceURL string, timeout time.Duration, logger *slog.Logger) *PredictWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictWorker{
		completions:  cq,
		inferenceURL: inferenceURL,
		httpClient:   &http.Client{Timeout: timeout},
		log:          logger,
	}
}

type inferenceRequest struct {
	ImageURL string `json:"image_url"`
}

func (w *PredictWorker) Work(ctx context.Context, job *river.Job[queue.PredictArgs]) error {
	args := job.Args
	log := w.log.With("log_id", args.LogID)

	body, _ := json.Marshal(inferenceRequest{ImageURL: args.ImageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.inferenceURL, bytes.NewReader(body))
	if err != nil {
		return w.fail(ctx, args, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if lastAttempt(job) {
			return w.fail(ctx, args, fmt.Sprintf("model server unreachable: %v", err))
		}
		return fmt.Errorf("network error calling model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return w.fail(ctx, args, fmt.Sprintf("model server returned status %d", resp.StatusCode))
	}

	var output json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&output); err != nil {
		return w.fail(ctx, args, "model server returned invalid JSON")
	}

	completion, err := queue.NewCompletion(args, reportedStatus(output), output)
	if err != nil {
		return w.fail(ctx, args, "model output could not be encoded")
	}
	if err := w.completions.EnqueueCompletion(ctx, completion); err != nil {
		return fmt.Errorf("enqueue completion: %w", err)
	}
	log.Info("prediction completed", "status", completion.Status)
	return nil
}

// fail reports a failed prediction so the usage log is settled. It only
// returns an error when the completion itself could not be enqueued.
func (w *PredictWorker) fail(ctx context.Context, args queue.PredictArgs, reason string) error {
	w.log.Warn("prediction failed", "log_id", args.LogID, "reason", reason)
	result, _ := json.Marshal(map[string]string{"error": reason})
	completion, err := queue.NewCompletion(args, models.LogStatusFailed, result)
	if err != nil {
		return err
	}
	if err := w.completions.EnqueueCompletion(ctx, completion); err != nil {
		return fmt.Errorf("prediction failed (%s) and completion was not enqueued: %w", reason, err)
	}
	return nil
}

// reportedStatus is the model's own verdict on a 2xx reply. A reply without
// a status counts as success.
func reportedStatus(output json.RawMessage) string {
	var head struct {
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(output, &head); err != nil || head.Status == nil {
		return models.LogStatusSuccess
	}
	return models.TerminalStatus(*head.Status)
}

func lastAttempt(job *river.Job[queue.PredictArgs]) bool {
	return job.JobRow != nil && job.Attempt >= job.MaxAttempts
}
