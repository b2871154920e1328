package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
)

// noopTx satisfies pgx.Tx; memStore applies writes immediately.
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

// memStore stands in for the users, api_keys, api_key_logs and histories
// tables.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	keys     map[uuid.UUID]*models.APIKey
	raw      map[string]uuid.UUID
	logs     map[int64]*models.UsageLog
	history  map[int64]*models.History
	nextLog  int64
	failNext error
	userErr  error
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[string]*models.User{},
		keys:    map[uuid.UUID]*models.APIKey{},
		raw:     map[string]uuid.UUID{},
		logs:    map[int64]*models.UsageLog{},
		history: map[int64]*models.History{},
	}
}

func (m *memStore) addUser(email string) *models.User {
	u := &models.User{ID: uuid.New(), Email: email}
	m.users[email] = u
	return u
}

func (m *memStore) addKey(userID uuid.UUID, raw string, max, used int64) *models.APIKey {
	k := &models.APIKey{ID: uuid.New(), UserID: userID, MaximumUsage: max, TotalUsage: used, IsDefault: true}
	m.keys[k.ID] = k
	m.raw[raw] = k.ID
	return k
}

func (m *memStore) key(id uuid.UUID) models.APIKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.keys[id]
}

func (m *memStore) log(id int64) models.UsageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.logs[id]
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userErr != nil {
		return nil, m.userErr
	}
	u, ok := m.users[email]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return u, nil
}

func (m *memStore) LookupActive(_ context.Context, userID uuid.UUID, raw string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.raw[raw]
	if !ok || m.keys[id].UserID != userID {
		return nil, apperr.ErrNotFound
	}
	cp := *m.keys[id]
	return &cp, nil
}

func (m *memStore) CreatePending(_ context.Context, keyID uuid.UUID) (*models.UsageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLog++
	l := &models.UsageLog{ID: m.nextLog, APIKeyID: keyID, Status: models.LogStatusPending}
	m.logs[l.ID] = l
	cp := *l
	return &cp, nil
}

func (m *memStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *memStore) Finish(ctx context.Context, id int64, status string) (uuid.UUID, bool, error) {
	return m.FinishTx(ctx, noopTx{}, id, status)
}

func (m *memStore) FinishTx(_ context.Context, _ pgx.Tx, id int64, status string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return uuid.Nil, false, err
	}
	l, ok := m.logs[id]
	if !ok {
		return uuid.Nil, false, apperr.ErrNotFound
	}
	if l.Status != models.LogStatusPending {
		return l.APIKeyID, false, nil
	}
	l.Status = status
	return l.APIKeyID, true, nil
}

func (m *memStore) IncrementUsageTx(_ context.Context, _ pgx.Tx, id uuid.UUID, delta int64) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	k.TotalUsage = min(k.TotalUsage+delta, k.MaximumUsage)
	cp := *k
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, h *models.History) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.LogID == nil {
		return false, errors.New("history without log id")
	}
	if _, dup := m.history[*h.LogID]; dup {
		return false, nil
	}
	cp := *h
	m.history[*h.LogID] = &cp
	return true, nil
}

type recordingFanout struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]json.RawMessage
	err  error
}

func (f *recordingFanout) Publish(_ context.Context, userID uuid.UUID, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[uuid.UUID][]json.RawMessage{}
	}
	f.sent[userID] = append(f.sent[userID], payload)
	return f.err
}
