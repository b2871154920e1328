package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detectai/backend/internal/models"
)

type UsageLogRepo struct {
	pool *pgxpool.Pool
}

func NewUsageLogRepo(pool *pgxpool.Pool) *UsageLogRepo {
	return &UsageLogRepo{pool: pool}
}

func (r *UsageLogRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreatePending records an admitted request against the key.
func (r *UsageLogRepo) CreatePending(ctx context.Context, keyID uuid.UUID) (*models.UsageLog, error) {
	l := models.UsageLog{APIKeyID: keyID, Status: models.LogStatusPending}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_key_logs (api_key_id, status) VALUES ($1, 'pending')
		RETURNING id, timestamp
	`, keyID).Scan(&l.ID, &l.Timestamp)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *UsageLogRepo) GetByID(ctx context.Context, id int64) (*models.UsageLog, error) {
	var l models.UsageLog
	err := r.pool.QueryRow(ctx, `
		SELECT id, api_key_id, timestamp, status FROM api_key_logs WHERE id = $1
	`, id).Scan(&l.ID, &l.APIKeyID, &l.Timestamp, &l.Status)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// Finish moves a pending log to a terminal status. Terminal logs are never
// rewritten.
func (r *UsageLogRepo) Finish(ctx context.Context, id int64, status string) (uuid.UUID, bool, error) {
	return finish(ctx, r.pool, id, status)
}

// FinishTx is Finish inside the caller's transaction. transitioned is false
// when the log had already left pending, which callers treat as a duplicate
// delivery. A missing log yields apperr.ErrNotFound.
func (r *UsageLogRepo) FinishTx(ctx context.Context, tx pgx.Tx, id int64, status string) (keyID uuid.UUID, transitioned bool, err error) {
	return finish(ctx, tx, id, status)
}

func finish(ctx context.Context, q Querier, id int64, status string) (uuid.UUID, bool, error) {
	var keyID uuid.UUID
	err := q.QueryRow(ctx, `
		UPDATE api_key_logs SET status = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING api_key_id
	`, id, status).Scan(&keyID)
	if err == nil {
		return keyID, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, err
	}
	err = q.QueryRow(ctx, `SELECT api_key_id FROM api_key_logs WHERE id = $1`, id).Scan(&keyID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("usage log %d: %w", id, notFound(err))
	}
	return keyID, false, nil
}

// DayStatusCount is one (day, status) bucket from CountByDay.
type DayStatusCount struct {
	Day    time.Time
	Status string
	Count  int64
}

// CountByDay groups logs since the given instant by UTC day and status.
// keyID nil counts across every key.
func (r *UsageLogRepo) CountByDay(ctx context.Context, keyID *uuid.UUID, since time.Time) ([]DayStatusCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc('day', timestamp AT TIME ZONE 'UTC') AS day, status, count(*)
		FROM api_key_logs
		WHERE timestamp >= $1 AND ($2::uuid IS NULL OR api_key_id = $2)
		GROUP BY day, status
		ORDER BY day
	`, since, keyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayStatusCount
	for rows.Next() {
		var c DayStatusCount
		if err := rows.Scan(&c.Day, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
