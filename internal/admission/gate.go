// Package admission decides whether a prediction request may proceed and
// records it as pending before dispatch.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
)

type KeyLookup interface {
	LookupActive(ctx context.Context, userID uuid.UUID, raw string) (*models.APIKey, error)
}

type LogStore interface {
	CreatePending(ctx context.Context, keyID uuid.UUID) (*models.UsageLog, error)
	Finish(ctx context.Context, id int64, status string) (uuid.UUID, bool, error)
}

type Gate struct {
	Keys   KeyLookup
	Logs   LogStore
	Logger *slog.Logger
}

func NewGate(keys KeyLookup, logs LogStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{Keys: keys, Logs: logs, Logger: logger}
}

// Admit validates the presented key for the user and opens a pending usage
// log. Quota is only consumed when the result is reconciled.
func (g *Gate) Admit(ctx context.Context, user *models.User, rawKey string) (*models.APIKey, *models.UsageLog, error) {
	if user == nil || rawKey == "" {
		return nil, nil, apperr.ErrUnauthorized
	}
	k, err := g.Keys.LookupActive(ctx, user.ID, rawKey)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil, apperr.ErrUnauthorized
		}
		return nil, nil, fmt.Errorf("lookup api key: %w", err)
	}
	if k.Exhausted() {
		return nil, nil, fmt.Errorf("api key %s: %w", k.ID, apperr.ErrLimitExceeded)
	}
	if !k.IsDefault {
		return nil, nil, fmt.Errorf("api key %s: %w", k.ID, apperr.ErrKeyInactive)
	}
	l, err := g.Logs.CreatePending(ctx, k.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create usage log: %w", err)
	}
	return k, l, nil
}

// Abandon finalizes a log whose dispatch never reached the queue. No usage
// is charged.
func (g *Gate) Abandon(ctx context.Context, logID int64) error {
	if _, _, err := g.Logs.Finish(ctx, logID, models.LogStatusFailed); err != nil {
		g.Logger.Error("abandon usage log", "log_id", logID, "error", err)
		return err
	}
	return nil
}
