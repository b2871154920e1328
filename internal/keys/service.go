// Package keys owns the API key lifecycle: issuing, activating, quota
// accounting, and usage reporting.
package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
	"github.com/detectai/backend/internal/repository"
)

// Repo is the slice of repository.APIKeyRepo the service needs.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockOwnerTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	CountByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error)
	DemoteOthersTx(ctx context.Context, tx pgx.Tx, userID, keep uuid.UUID) error
	CreateTx(ctx context.Context, tx pgx.Tx, k *models.APIKey) error
	SetDefaultTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, isDefault bool) (*models.APIKey, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	FindByHash(ctx context.Context, userID uuid.UUID, keyHash string) (*models.APIKey, error)
	FindDefault(ctx context.Context, userID uuid.UUID) (*models.APIKey, error)
	IncrementUsage(ctx context.Context, id uuid.UUID, delta int64) (*models.APIKey, error)
	DeleteOwned(ctx context.Context, id, userID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	ListAll(ctx context.Context) ([]*models.APIKey, error)
}

// LogCounter aggregates usage logs per day and status.
type LogCounter interface {
	CountByDay(ctx context.Context, keyID *uuid.UUID, since time.Time) ([]repository.DayStatusCount, error)
}

// Sealer encrypts raw secrets at rest so they can be revealed at login.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(encoded string) (string, error)
}

const (
	keyReportDays   = 30
	statsReportDays = 31
)

type Service struct {
	Repo           Repo
	Logs           LogCounter
	Sealer         Sealer
	MaxKeysPerUser int
}

func NewService(repo Repo, logs LogCounter, sealer Sealer, maxKeysPerUser int) *Service {
	return &Service{Repo: repo, Logs: logs, Sealer: sealer, MaxKeysPerUser: maxKeysPerUser}
}

type CreateKeyParams struct {
	// Owner and MaximumUsage are honored for privileged callers only.
	Owner        uuid.UUID
	Type         string
	MaximumUsage *int64
	IsDefault    bool
}

// CreateKey issues a key and returns the stored record together with the raw
// secret, which is never retrievable in this form again except by Reveal.
func (s *Service) CreateKey(ctx context.Context, caller *models.User, p CreateKeyParams) (*models.APIKey, string, error) {
	if caller == nil {
		return nil, "", apperr.ErrUnauthorized
	}
	if p.Type == "" {
		p.Type = models.APIKeyTypeFree
	}
	if !models.ValidAPIKeyType(p.Type) {
		return nil, "", fmt.Errorf("%w: unknown api_key_type %q", apperr.ErrValidation, p.Type)
	}

	owner := caller.ID
	maximum := models.DefaultMaximumUsage(p.Type)
	if caller.IsPrivileged() {
		if p.Owner == uuid.Nil || p.Owner == caller.ID {
			return nil, "", fmt.Errorf("%w: admin users cannot create API keys for themselves", apperr.ErrValidation)
		}
		owner = p.Owner
		if p.MaximumUsage != nil {
			if *p.MaximumUsage < 0 {
				return nil, "", fmt.Errorf("%w: maximum_usage must not be negative", apperr.ErrValidation)
			}
			maximum = *p.MaximumUsage
		}
	}

	raw, err := NewSecret()
	if err != nil {
		return nil, "", err
	}
	sealed, err := s.Sealer.Seal(raw)
	if err != nil {
		return nil, "", fmt.Errorf("seal api key: %w", err)
	}
	k := &models.APIKey{
		ID:           uuid.New(),
		UserID:       owner,
		KeyHash:      HashSecret(raw),
		EncryptedKey: sealed,
		KeyHint:      Hint(raw),
		Type:         p.Type,
		MaximumUsage: maximum,
		IsDefault:    p.IsDefault,
	}

	tx, err := s.Repo.Begin(ctx)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.Repo.LockOwnerTx(ctx, tx, owner); err != nil {
		return nil, "", fmt.Errorf("key owner %s: %w", owner, err)
	}
	n, err := s.Repo.CountByUserTx(ctx, tx, owner)
	if err != nil {
		return nil, "", err
	}
	if s.MaxKeysPerUser > 0 && n >= s.MaxKeysPerUser {
		return nil, "", fmt.Errorf("%w: a user may hold at most %d API keys", apperr.ErrValidation, s.MaxKeysPerUser)
	}
	// Demote first: the partial unique index allows one default per user.
	if k.IsDefault {
		if err := s.Repo.DemoteOthersTx(ctx, tx, owner, k.ID); err != nil {
			return nil, "", err
		}
	}
	if err := s.Repo.CreateTx(ctx, tx, k); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}
	return k, raw, nil
}

// SetDefault activates or deactivates a key the owner holds. Activating
// demotes every sibling in the same transaction.
func (s *Service) SetDefault(ctx context.Context, owner, keyID uuid.UUID, isDefault bool) (*models.APIKey, error) {
	tx, err := s.Repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.Repo.LockOwnerTx(ctx, tx, owner); err != nil {
		return nil, err
	}
	if isDefault {
		if err := s.Repo.DemoteOthersTx(ctx, tx, owner, keyID); err != nil {
			return nil, err
		}
	}
	k, err := s.Repo.SetDefaultTx(ctx, tx, keyID, owner, isDefault)
	if err != nil {
		return nil, fmt.Errorf("api key %s: %w", keyID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// LookupActive resolves a presented raw key among the user's own keys.
func (s *Service) LookupActive(ctx context.Context, userID uuid.UUID, raw string) (*models.APIKey, error) {
	if raw == "" {
		return nil, apperr.ErrNotFound
	}
	return s.Repo.FindByHash(ctx, userID, HashSecret(raw))
}

// IncrementUsage adds delta to the key's usage, clamped to its maximum.
func (s *Service) IncrementUsage(ctx context.Context, keyID uuid.UUID, delta int64) (*models.APIKey, error) {
	if delta < 0 {
		return nil, fmt.Errorf("%w: negative usage delta", apperr.ErrValidation)
	}
	return s.Repo.IncrementUsage(ctx, keyID, delta)
}

func (s *Service) Delete(ctx context.Context, owner, keyID uuid.UUID) error {
	return s.Repo.DeleteOwned(ctx, keyID, owner)
}

// List returns the caller's keys, or every key for privileged callers.
// Secrets are only ever present as hints.
func (s *Service) List(ctx context.Context, caller *models.User) ([]*models.APIKey, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthorized
	}
	if caller.IsPrivileged() {
		return s.Repo.ListAll(ctx)
	}
	return s.Repo.ListByUser(ctx, caller.ID)
}

// Reveal decrypts the user's default key. It returns "" when the user has no
// default key.
func (s *Service) Reveal(ctx context.Context, userID uuid.UUID) (string, error) {
	k, err := s.Repo.FindDefault(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return s.Sealer.Open(k.EncryptedKey)
}

// UsageReport returns the last 30 days of a key's logs. Callers other than the
// owner need to be privileged.
func (s *Service) UsageReport(ctx context.Context, caller *models.User, keyID uuid.UUID, now time.Time) ([]models.DayUsage, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthorized
	}
	k, err := s.Repo.GetByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("api key %s: %w", keyID, err)
	}
	if k.UserID != caller.ID && !caller.IsPrivileged() {
		return nil, fmt.Errorf("api key %s: %w", keyID, apperr.ErrNotFound)
	}
	return s.report(ctx, &k.ID, now, keyReportDays)
}

// StatsReport is the admin view over every key, 31 days ending today.
func (s *Service) StatsReport(ctx context.Context, caller *models.User, now time.Time) ([]models.DayUsage, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthorized
	}
	if !caller.IsPrivileged() {
		return nil, apperr.ErrForbidden
	}
	return s.report(ctx, nil, now, statsReportDays)
}

func (s *Service) report(ctx context.Context, keyID *uuid.UUID, now time.Time, days int) ([]models.DayUsage, error) {
	today := truncateDay(now)
	since := today.AddDate(0, 0, -(days - 1))
	counts, err := s.Logs.CountByDay(ctx, keyID, since)
	if err != nil {
		return nil, err
	}
	return zeroFill(counts, since, days), nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

const dayLayout = "2006-01-02"

// zeroFill expands sparse counts into one entry per day starting at since,
// each listing every status in models.LogStatuses order.
func zeroFill(counts []repository.DayStatusCount, since time.Time, days int) []models.DayUsage {
	byDay := make(map[string]map[string]int64, len(counts))
	for _, c := range counts {
		d := c.Day.UTC().Format(dayLayout)
		if byDay[d] == nil {
			byDay[d] = make(map[string]int64, len(models.LogStatuses))
		}
		byDay[d][c.Status] += c.Count
	}
	out := make([]models.DayUsage, 0, days)
	for i := 0; i < days; i++ {
		d := since.AddDate(0, 0, i).Format(dayLayout)
		statuses := make([]models.StatusCount, 0, len(models.LogStatuses))
		for _, st := range models.LogStatuses {
			statuses = append(statuses, models.StatusCount{Status: st, Count: byDay[d][st]})
		}
		out = append(out, models.DayUsage{Day: d, Statuses: statuses})
	}
	return out
}
