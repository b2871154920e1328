package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detectai/backend/internal/models"
)

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

// Create stores a completed prediction. A redelivered completion for the same
// log is ignored; created reports whether a row was written.
func (r *HistoryRepo) Create(ctx context.Context, h *models.History) (created bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO histories (user_id, image_url, results, log_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (log_id) DO NOTHING
	`, h.UserID, h.ImageURL, h.Results, h.LogID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const historySelect = `
	SELECT h.id, h.user_id, u.email, h.image_url, h.results, h.log_id, h.created_at
	FROM histories h JOIN users u ON u.id = h.user_id`

func (r *HistoryRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.History, error) {
	return r.list(ctx, historySelect+` WHERE h.user_id = $1 ORDER BY h.id DESC`, userID)
}

func (r *HistoryRepo) ListAll(ctx context.Context) ([]*models.History, error) {
	return r.list(ctx, historySelect+` ORDER BY h.id DESC`)
}

// ListRecent returns at most limit records created since the given instant.
func (r *HistoryRepo) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.History, error) {
	return r.list(ctx, historySelect+` WHERE h.created_at >= $1 ORDER BY h.id DESC LIMIT $2`, since, limit)
}

func (r *HistoryRepo) list(ctx context.Context, sql string, args ...any) ([]*models.History, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.History{}
	for rows.Next() {
		var h models.History
		if err := rows.Scan(&h.ID, &h.UserID, &h.UserEmail, &h.ImageURL, &h.Results, &h.LogID, &h.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &h)
	}
	return list, rows.Err()
}
