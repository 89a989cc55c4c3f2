package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/testutils"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createUser(t *testing.T, repo *UserRepository, email, plan string) *models.User {
	t.Helper()
	user := &models.User{Email: email, PasswordHash: "x", Name: "Test", Plan: plan}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestUserRepository(t *testing.T) {
	db := testutils.NewDatabase(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := createUser(t, repo, "ada@example.com", "premium")
	require.NotEqual(t, uuid.Nil, user.ID)

	found, err := repo.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, models.RoleMember, found.Role)

	missing, err := repo.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	plan, err := repo.PlanFor(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "premium", plan)

	plan, err = repo.PlanFor(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestUserRepository_ChangePlanRetiersKeys(t *testing.T) {
	db := testutils.NewDatabase(t)
	users := NewUserRepository(db)
	keys := NewAPIKeyRepository(db)
	ctx := context.Background()

	user := createUser(t, users, "grace@example.com", "free")
	key := &models.APIKey{KeyHash: "h1", Name: "ci", UserID: user.ID, Tier: "free"}
	require.NoError(t, keys.Create(ctx, key))

	ok, err := users.ChangePlan(ctx, user.ID.String(), tier.PlanPro)
	require.NoError(t, err)
	assert.True(t, ok)

	updated, err := keys.FindByID(ctx, key.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "pro", updated.Tier)

	ok, err = users.ChangePlan(ctx, uuid.NewString(), tier.PlanPro)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIKeyRepository(t *testing.T) {
	db := testutils.NewDatabase(t)
	users := NewUserRepository(db)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	owner := createUser(t, users, "key-owner@example.com", "free")
	key := &models.APIKey{KeyHash: "hash-1", Name: "primary", UserID: owner.ID, Tier: "premium"}
	require.NoError(t, repo.Create(ctx, key))
	require.NoError(t, repo.Create(ctx, &models.APIKey{KeyHash: "hash-2", Name: "other", UserID: owner.ID, Tier: "free"}))

	found, err := repo.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, owner.ID, found.UserID)

	require.NoError(t, repo.UpdateLastUsed(ctx, key.ID, time.Now().UTC()))
	found, err = repo.FindByID(ctx, key.ID.String())
	require.NoError(t, err)
	assert.NotNil(t, found.LastUsedAt)

	byUser, err := repo.ListByUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	counts, err := repo.CountByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"premium": 1, "free": 1}, counts)

	revoked, err := repo.Revoke(ctx, key.ID.String())
	require.NoError(t, err)
	assert.True(t, revoked)

	found, err = repo.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestDailyUsageRepository_Increment(t *testing.T) {
	db := testutils.NewDatabase(t)
	repo := NewDailyUsageRepository(db, nil)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := repo.Increment(ctx, "u1", "2025-01-01")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	next, err := repo.Increment(ctx, "u1", "2025-01-02")
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)

	count, err := repo.Get(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	count, err = repo.Get(ctx, "u2", "2025-01-01")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDailyUsageRepository_ConcurrentIncrements(t *testing.T) {
	db := testutils.NewDatabase(t)
	repo := NewDailyUsageRepository(db, nil)
	ctx := context.Background()

	const callers = 40
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Increment(ctx, "u1", "2025-01-01")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := repo.Get(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	assert.EqualValues(t, callers, count)
}

func TestDailyUsageRepository_HistoryAndPrune(t *testing.T) {
	db := testutils.NewDatabase(t)
	repo := NewDailyUsageRepository(db, nil)
	ctx := context.Background()

	for _, date := range []string{"2024-12-30", "2024-12-31", "2025-01-01"} {
		_, err := repo.Increment(ctx, "u1", date)
		require.NoError(t, err)
	}

	history, err := repo.History(ctx, "u1", "2024-12-31", "2025-01-01")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-01-01", history[0].Date)
	assert.Equal(t, "2024-12-31", history[1].Date)

	history, err = repo.History(ctx, "u1", "2024-12-30", "2024-12-30")
	require.NoError(t, err)
	require.Len(t, history, 1)

	removed, err := repo.DeleteBefore(ctx, "2025-01-01")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	require.NoError(t, repo.ClearAll(ctx))
	count, err := repo.Get(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAdmissionEventRepository(t *testing.T) {
	db := testutils.NewDatabase(t)
	repo := NewAdmissionEventRepository(db)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	events := []*models.AdmissionEvent{
		{Timestamp: base, Identity: "1.2.3.4", Tier: "guest", Outcome: "rate_limited", Limit: 30},
		{Timestamp: base.Add(time.Minute), Identity: "1.2.3.4", Tier: "guest", Outcome: "rate_limited", Limit: 30},
		{Timestamp: base.Add(2 * time.Minute), Identity: "u1", Tier: "free", Outcome: "quota_exceeded", Limit: 10},
		{Timestamp: base.Add(3 * time.Minute), Identity: "u2", Tier: "free", Outcome: "store_unavailable", Limit: 60, Allowed: true},
		{Timestamp: base.Add(-48 * time.Hour), Identity: "old", Tier: "guest", Outcome: "rate_limited"},
	}
	require.NoError(t, repo.CreateBatch(ctx, events))
	require.NoError(t, repo.CreateBatch(ctx, nil))

	from, to := base.Add(-time.Hour), base.Add(time.Hour)

	total, err := repo.CountByTimeRange(ctx, from, to)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)

	byOutcome, err := repo.CountByOutcome(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, []OutcomeCount{
		{Outcome: "quota_exceeded", Count: 1},
		{Outcome: "rate_limited", Count: 2},
		{Outcome: "store_unavailable", Allowed: true, Count: 1},
	}, byOutcome)

	top, err := repo.TopDeniedIdentities(ctx, from, to, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, IdentityCount{Identity: "1.2.3.4", Tier: "guest", Count: 2}, top[0])

	page, err := repo.FindByTimeRange(ctx, from, to, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "u2", page[0].Identity)

	removed, err := repo.DeleteBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
