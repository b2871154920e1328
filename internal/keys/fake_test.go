package keys

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
	"github.com/detectai/backend/internal/repository"
)

// noopTx satisfies pgx.Tx; the fake repo ignores it.
type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// fakeRepo keeps keys in memory and applies the same clamping and default
// rules as the SQL.
type fakeRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]bool
	keys  map[uuid.UUID]*models.APIKey
}

func newFakeRepo(users ...uuid.UUID) *fakeRepo {
	r := &fakeRepo{users: map[uuid.UUID]bool{}, keys: map[uuid.UUID]*models.APIKey{}}
	for _, u := range users {
		r.users[u] = true
	}
	return r
}

func (r *fakeRepo) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (r *fakeRepo) LockOwnerTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.users[userID] {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *fakeRepo) CountByUserTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if k.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) DemoteOthersTx(_ context.Context, _ pgx.Tx, userID, keep uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.UserID == userID && k.ID != keep {
			k.IsDefault = false
		}
	}
	return nil
}

func (r *fakeRepo) CreateTx(_ context.Context, _ pgx.Tx, k *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k.IsDefault {
		for _, o := range r.keys {
			if o.UserID == k.UserID && o.IsDefault {
				return fmt.Errorf("duplicate default key for %s", k.UserID)
			}
		}
	}
	k.TotalUsage = min(k.TotalUsage, k.MaximumUsage)
	k.CreatedAt = time.Now()
	cp := *k
	r.keys[k.ID] = &cp
	return nil
}

func (r *fakeRepo) SetDefaultTx(_ context.Context, _ pgx.Tx, id, userID uuid.UUID, isDefault bool) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok || k.UserID != userID {
		return nil, apperr.ErrNotFound
	}
	k.IsDefault = isDefault
	cp := *k
	return &cp, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *fakeRepo) FindByHash(_ context.Context, userID uuid.UUID, hash string) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.KeyHash == hash && k.UserID == userID {
			cp := *k
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeRepo) FindDefault(_ context.Context, userID uuid.UUID) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.UserID == userID && k.IsDefault {
			cp := *k
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *fakeRepo) IncrementUsage(_ context.Context, id uuid.UUID, delta int64) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	k.TotalUsage = min(k.TotalUsage+delta, k.MaximumUsage)
	now := time.Now()
	k.LastUsed = &now
	cp := *k
	return &cp, nil
}

func (r *fakeRepo) DeleteOwned(_ context.Context, id, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok || k.UserID != userID {
		return apperr.ErrNotFound
	}
	delete(r.keys, id)
	return nil
}

func (r *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.APIKey
	for _, k := range r.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAll(context.Context) ([]*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.APIKey
	for _, k := range r.keys {
		cp := *k
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) defaults(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if k.UserID == userID && k.IsDefault {
			n++
		}
	}
	return n
}

type fakeCounter struct {
	counts []repository.DayStatusCount
	keyID  *uuid.UUID
	since  time.Time
	called bool
}

func (c *fakeCounter) CountByDay(_ context.Context, keyID *uuid.UUID, since time.Time) ([]repository.DayStatusCount, error) {
	c.called = true
	c.keyID = keyID
	c.since = since
	return c.counts, nil
}

// plainSealer tags the secret so tests can tell sealed from raw.
type plainSealer struct{}

func (plainSealer) Seal(p string) (string, error) { return "sealed:" + p, nil }
func (plainSealer) Open(s string) (string, error) { return strings.TrimPrefix(s, "sealed:"), nil }
