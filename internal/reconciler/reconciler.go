// Package reconciler applies a finished prediction: it settles the usage log,
// charges the key, records history, and pushes the result to the user.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
	"github.com/detectai/backend/internal/queue"
)

// Completion is a worker result as delivered by the queue.
type Completion = queue.CompletionArgs

type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type HistoryStore interface {
	Create(ctx context.Context, h *models.History) (bool, error)
}

type LogStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	FinishTx(ctx context.Context, tx pgx.Tx, id int64, status string) (uuid.UUID, bool, error)
}

type UsageCounter interface {
	IncrementUsageTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (*models.APIKey, error)
}

type Fanout interface {
	Publish(ctx context.Context, userID uuid.UUID, payload json.RawMessage) error
}

type Reconciler struct {
	Users   UserLookup
	History HistoryStore
	Logs    LogStore
	Usage   UsageCounter
	Fanout  Fanout
	Logger  *slog.Logger
}

func New(users UserLookup, history HistoryStore, logs LogStore, usage UsageCounter, fanout Fanout, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Users: users, History: history, Logs: logs, Usage: usage, Fanout: fanout, Logger: logger}
}

// Complete is safe to run more than once for the same log: the status moves
// out of pending at most once and only that move charges the key. History is
// keyed on the log. Fan-out is repeated on every delivery.
//
// Each step runs even if an earlier one failed. Infrastructure errors are
// joined and returned so the queue redelivers; missing users or logs are
// logged and swallowed.
func (r *Reconciler) Complete(ctx context.Context, c Completion) error {
	log := r.Logger.With("log_id", c.LogID, "email", c.Email)
	var errs []error

	user, err := r.Users.GetByEmail(ctx, c.Email)
	userMissing := false
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn("completion for unknown user", "error", fmt.Errorf("%w: user %q", apperr.ErrTransient, c.Email))
		user = nil
		userMissing = true
	case err != nil:
		log.Error("resolve user", "error", err)
		errs = append(errs, err)
		user = nil
	}

	if user != nil {
		logID := c.LogID
		created, err := r.History.Create(ctx, &models.History{
			UserID:   user.ID,
			ImageURL: c.ImageURL,
			Results:  c.Payload,
			LogID:    &logID,
		})
		if err != nil {
			log.Error("write history", "error", err)
			errs = append(errs, err)
		} else if !created {
			log.Info("history already recorded")
		}
	}

	owner, err := r.settle(ctx, c, log)
	if err != nil {
		errs = append(errs, err)
	}

	// A failed user lookup still reaches the key's owner when settling
	// charged the key.
	recipient := uuid.Nil
	switch {
	case user != nil:
		recipient = user.ID
	case !userMissing:
		recipient = owner
	}
	if recipient != uuid.Nil {
		if err := r.Fanout.Publish(ctx, recipient, c.Payload); err != nil {
			log.Warn("fan-out failed", "error", err)
		}
	}
	return errors.Join(errs...)
}

// settle moves the log to its terminal status and charges the key in one
// transaction. It returns the key's owner when the key was charged.
func (r *Reconciler) settle(ctx context.Context, c Completion, log *slog.Logger) (uuid.UUID, error) {
	status := models.TerminalStatus(c.Status)

	tx, err := r.Logs.Begin(ctx)
	if err != nil {
		log.Error("begin settle", "error", err)
		return uuid.Nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	keyID, moved, err := r.Logs.FinishTx(ctx, tx, c.LogID, status)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("completion for unknown usage log", "error", fmt.Errorf("%w: %v", apperr.ErrTransient, err))
		return uuid.Nil, nil
	}
	if err != nil {
		log.Error("finish usage log", "error", err)
		return uuid.Nil, err
	}
	if !moved {
		log.Info("duplicate completion, usage log already terminal")
		return uuid.Nil, nil
	}

	k, err := r.Usage.IncrementUsageTx(ctx, tx, keyID, 1)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("usage log references missing key", "api_key_id", keyID)
	} else if err != nil {
		log.Error("increment usage", "api_key_id", keyID, "error", err)
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		log.Error("commit settle", "error", err)
		return uuid.Nil, err
	}
	if k == nil {
		return uuid.Nil, nil
	}
	log.Info("usage log settled", "status", status, "api_key_id", keyID, "total_usage", k.TotalUsage)
	return k.UserID, nil
}

// Reject settles the log of a completion that could not be applied as failed,
// without charging the key.
func (r *Reconciler) Reject(ctx context.Context, logID int64) error {
	tx, err := r.Logs.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, moved, err := r.Logs.FinishTx(ctx, tx, logID, models.LogStatusFailed)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	return tx.Commit(ctx)
}
