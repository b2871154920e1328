package keys

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
	"github.com/detectai/backend/internal/repository"
)

func newTestService(users ...uuid.UUID) (*Service, *fakeRepo, *fakeCounter) {
	repo := newFakeRepo(users...)
	counter := &fakeCounter{}
	return NewService(repo, counter, plainSealer{}, 5), repo, counter
}

func int64Ptr(n int64) *int64 { return &n }

func TestCreateKey_TierDefaults(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	svc, _, _ := newTestService(user.ID)
	ctx := context.Background()

	cases := map[string]int64{
		"":                          100,
		models.APIKeyTypeFree:       100,
		models.APIKeyTypeEnterprise: 10000,
		models.APIKeyTypeCustom:     10000,
	}
	for typ, want := range cases {
		k, raw, err := svc.CreateKey(ctx, user, CreateKeyParams{Type: typ})
		require.NoError(t, err, typ)
		assert.Equal(t, want, k.MaximumUsage, typ)
		assert.Equal(t, int64(0), k.TotalUsage)
		assert.Equal(t, user.ID, k.UserID)
		assert.Equal(t, HashSecret(raw), k.KeyHash)
		assert.Equal(t, "sealed:"+raw, k.EncryptedKey)
	}
}

func TestCreateKey_NonPrivilegedCannotOverride(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	other := uuid.New()
	svc, _, _ := newTestService(user.ID, other)

	k, _, err := svc.CreateKey(context.Background(), user, CreateKeyParams{
		Owner:        other,
		MaximumUsage: int64Ptr(5000),
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, k.UserID)
	assert.Equal(t, int64(100), k.MaximumUsage)
}

func TestCreateKey_PrivilegedIssuesForOthers(t *testing.T) {
	admin := &models.User{ID: uuid.New(), IsStaff: true}
	target := uuid.New()
	svc, _, _ := newTestService(admin.ID, target)
	ctx := context.Background()

	k, _, err := svc.CreateKey(ctx, admin, CreateKeyParams{
		Owner:        target,
		Type:         models.APIKeyTypeCustom,
		MaximumUsage: int64Ptr(42),
	})
	require.NoError(t, err)
	assert.Equal(t, target, k.UserID)
	assert.Equal(t, int64(42), k.MaximumUsage)

	_, _, err = svc.CreateKey(ctx, admin, CreateKeyParams{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = svc.CreateKey(ctx, admin, CreateKeyParams{Owner: admin.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = svc.CreateKey(ctx, admin, CreateKeyParams{Owner: target, MaximumUsage: int64Ptr(-1)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateKey_Rejections(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	svc, _, _ := newTestService(user.ID)
	ctx := context.Background()

	_, _, err := svc.CreateKey(ctx, nil, CreateKeyParams{})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, _, err = svc.CreateKey(ctx, user, CreateKeyParams{Type: "platinum"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	for i := 0; i < 5; i++ {
		_, _, err := svc.CreateKey(ctx, user, CreateKeyParams{})
		require.NoError(t, err)
	}
	_, _, err = svc.CreateKey(ctx, user, CreateKeyParams{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateKey_DefaultDemotesSiblings(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	svc, repo, _ := newTestService(user.ID)
	ctx := context.Background()

	first, _, err := svc.CreateKey(ctx, user, CreateKeyParams{IsDefault: true})
	require.NoError(t, err)
	second, _, err := svc.CreateKey(ctx, user, CreateKeyParams{IsDefault: true})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.defaults(user.ID))
	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
	got, err = repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)
}

func TestSetDefault(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	stranger := uuid.New()
	svc, repo, _ := newTestService(user.ID, stranger)
	ctx := context.Background()

	a, _, err := svc.CreateKey(ctx, user, CreateKeyParams{IsDefault: true})
	require.NoError(t, err)
	b, _, err := svc.CreateKey(ctx, user, CreateKeyParams{})
	require.NoError(t, err)

	k, err := svc.SetDefault(ctx, user.ID, b.ID, true)
	require.NoError(t, err)
	assert.True(t, k.IsDefault)
	assert.Equal(t, 1, repo.defaults(user.ID))
	got, _ := repo.GetByID(ctx, a.ID)
	assert.False(t, got.IsDefault)

	_, err = svc.SetDefault(ctx, stranger, b.ID, true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLookupActive_MatchesOwnerOnly(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	other := uuid.New()
	svc, _, _ := newTestService(user.ID, other)
	ctx := context.Background()

	k, raw, err := svc.CreateKey(ctx, user, CreateKeyParams{})
	require.NoError(t, err)

	got, err := svc.LookupActive(ctx, user.ID, raw)
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)

	_, err = svc.LookupActive(ctx, other, raw)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.LookupActive(ctx, user.ID, raw+"x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.LookupActive(ctx, user.ID, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIncrementUsage_ConcurrentClamps(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	svc, _, _ := newTestService(user.ID)
	ctx := context.Background()

	k, _, err := svc.CreateKey(ctx, user, CreateKeyParams{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.IncrementUsage(ctx, k.ID, 1)
		}()
	}
	wg.Wait()

	got, err := svc.Repo.GetByID(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TotalUsage)
	assert.NotNil(t, got.LastUsed)

	_, err = svc.IncrementUsage(ctx, k.ID, -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteAndList(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	other := &models.User{ID: uuid.New()}
	admin := &models.User{ID: uuid.New(), IsSuperuser: true}
	svc, _, _ := newTestService(user.ID, other.ID, admin.ID)
	ctx := context.Background()

	k, _, err := svc.CreateKey(ctx, user, CreateKeyParams{})
	require.NoError(t, err)
	_, _, err = svc.CreateKey(ctx, other, CreateKeyParams{})
	require.NoError(t, err)

	mine, err := svc.List(ctx, user)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, svc.Delete(ctx, other.ID, k.ID), apperr.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, user.ID, k.ID))
	mine, err = svc.List(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestReveal(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	svc, _, _ := newTestService(user.ID)
	ctx := context.Background()

	got, err := svc.Reveal(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, raw, err := svc.CreateKey(ctx, user, CreateKeyParams{IsDefault: true})
	require.NoError(t, err)
	got, err = svc.Reveal(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestUsageReport_ZeroFilled(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	stranger := &models.User{ID: uuid.New()}
	svc, _, counter := newTestService(user.ID, stranger.ID)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

	k, _, err := svc.CreateKey(ctx, user, CreateKeyParams{})
	require.NoError(t, err)
	counter.counts = []repository.DayStatusCount{
		{Day: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Status: models.LogStatusSuccess, Count: 3},
		{Day: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Status: models.LogStatusPending, Count: 1},
		{Day: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), Status: models.LogStatusFailed, Count: 2},
	}

	report, err := svc.UsageReport(ctx, user, k.ID, now)
	require.NoError(t, err)
	require.Len(t, report, 30)
	assert.Equal(t, "2024-02-10", report[0].Day)
	assert.Equal(t, "2024-03-10", report[29].Day)
	assert.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), counter.since)
	require.NotNil(t, counter.keyID)
	assert.Equal(t, k.ID, *counter.keyID)

	for _, d := range report {
		require.Len(t, d.Statuses, 3)
		for i, st := range models.LogStatuses {
			assert.Equal(t, st, d.Statuses[i].Status)
		}
	}
	assert.Equal(t, int64(2), report[0].Statuses[1].Count)
	assert.Equal(t, int64(3), report[29].Statuses[0].Count)
	assert.Equal(t, int64(0), report[29].Statuses[1].Count)
	assert.Equal(t, int64(1), report[29].Statuses[2].Count)
	assert.Equal(t, int64(0), report[15].Statuses[0].Count)

	_, err = svc.UsageReport(ctx, stranger, k.ID, now)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatsReport(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	admin := &models.User{ID: uuid.New(), IsStaff: true}
	svc, _, counter := newTestService(user.ID, admin.ID)
	ctx := context.Background()
	now := time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)

	_, err := svc.StatsReport(ctx, user, now)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	report, err := svc.StatsReport(ctx, admin, now)
	require.NoError(t, err)
	require.Len(t, report, 31)
	assert.Equal(t, "2024-03-01", report[0].Day)
	assert.Equal(t, "2024-03-31", report[30].Day)
	assert.Nil(t, counter.keyID)
}

func TestSecretFormat(t *testing.T) {
	raw, err := NewSecret()
	require.NoError(t, err)
	assert.True(t, len(raw) > 30)
	assert.Equal(t, "ak_", raw[:3])
	assert.Len(t, raw, 3+38)

	hint := Hint(raw)
	assert.Equal(t, raw[:5]+"***"+raw[len(raw)-5:], hint)
	assert.NotEqual(t, HashSecret(raw), HashSecret(raw+"x"))
}
