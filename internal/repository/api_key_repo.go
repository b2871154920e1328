package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

const apiKeyColumns = `id, user_id, key_hash, encrypted_key, key_hint, api_key_type,
	maximum_usage, total_usage, is_default, last_used, created_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.EncryptedKey, &k.KeyHint, &k.Type,
		&k.MaximumUsage, &k.TotalUsage, &k.IsDefault, &k.LastUsed, &k.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}

func (r *APIKeyRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockOwnerTx takes a row lock on the owning user so concurrent key creation
// for the same user serializes on the per-user cap and the default flag.
func (r *APIKeyRepo) LockOwnerTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	return notFound(err)
}

func (r *APIKeyRepo) CountByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM api_keys WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// DemoteOthersTx clears is_default on every key of the user except keep.
func (r *APIKeyRepo) DemoteOthersTx(ctx context.Context, tx pgx.Tx, userID, keep uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE api_keys SET is_default = FALSE
		WHERE user_id = $1 AND id <> $2 AND is_default
	`, userID, keep)
	return err
}

// CreateTx inserts k, clamping total_usage to maximum_usage.
func (r *APIKeyRepo) CreateTx(ctx context.Context, tx pgx.Tx, k *models.APIKey) error {
	return tx.QueryRow(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, encrypted_key, key_hint, api_key_type, maximum_usage, total_usage, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, LEAST($8::bigint, $7::bigint), $9)
		RETURNING total_usage, created_at
	`, k.ID, k.UserID, k.KeyHash, k.EncryptedKey, k.KeyHint, k.Type, k.MaximumUsage, k.TotalUsage, k.IsDefault,
	).Scan(&k.TotalUsage, &k.CreatedAt)
}

// SetDefaultTx flips is_default on a key the user owns.
func (r *APIKeyRepo) SetDefaultTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, isDefault bool) (*models.APIKey, error) {
	return scanAPIKey(tx.QueryRow(ctx, `
		UPDATE api_keys SET is_default = $3
		WHERE id = $1 AND user_id = $2
		RETURNING `+apiKeyColumns, id, userID, isDefault))
}

func (r *APIKeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

// FindByHash matches a presented secret against the user's keys only.
func (r *APIKeyRepo) FindByHash(ctx context.Context, userID uuid.UUID, keyHash string) (*models.APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1 AND user_id = $2
	`, keyHash, userID))
}

func (r *APIKeyRepo) FindDefault(ctx context.Context, userID uuid.UUID) (*models.APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 AND is_default
	`, userID))
}

// IncrementUsage is a single conditional UPDATE: the increment is applied by
// Postgres under the row lock and clamped to maximum_usage, so concurrent
// callers never lose updates or overshoot.
func (r *APIKeyRepo) IncrementUsage(ctx context.Context, id uuid.UUID, delta int64) (*models.APIKey, error) {
	return incrementUsage(ctx, r.pool, id, delta)
}

// IncrementUsageTx is IncrementUsage inside the caller's transaction.
func (r *APIKeyRepo) IncrementUsageTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (*models.APIKey, error) {
	return incrementUsage(ctx, tx, id, delta)
}

func incrementUsage(ctx context.Context, q Querier, id uuid.UUID, delta int64) (*models.APIKey, error) {
	return scanAPIKey(q.QueryRow(ctx, `
		UPDATE api_keys
		SET total_usage = LEAST(total_usage + $2, maximum_usage), last_used = now()
		WHERE id = $1
		RETURNING `+apiKeyColumns, id, delta))
}

// DeleteOwned removes the key and, through the FK cascade, its logs.
func (r *APIKeyRepo) DeleteOwned(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListByUser returns the user's keys, newest first.
func (r *APIKeyRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	return r.list(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListAll is the admin view.
func (r *APIKeyRepo) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	return r.list(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
}

func (r *APIKeyRepo) list(ctx context.Context, sql string, args ...any) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, k)
	}
	return list, rows.Err()
}
