package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-leveling/internal/application/progression"
	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/memory"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

var now = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

// MockMembershipSource is a testify mock of leveling.MembershipSource.
type MockMembershipSource struct {
	mock.Mock
}

func (m *MockMembershipSource) Boosters(ctx context.Context, guildID shared.GuildID) (leveling.BoosterSnapshot, error) {
	args := m.Called(ctx, guildID)
	return args.Get(0).(leveling.BoosterSnapshot), args.Error(1)
}

func newService(t *testing.T) (*progression.Service, *memory.Store) {
	t.Helper()
	catalog, err := achievement.NewCatalog([]achievement.Achievement{
		{ID: "top_three", Category: achievement.CategoryRank, Criteria: achievement.Criteria{Kind: achievement.KindBestRankAtMost, Value: 3}},
	})
	require.NoError(t, err)

	store := memory.NewStore()
	svc := progression.NewService(store, achievement.NewEngine(catalog, leveling.DefaultLevelCurve()), progression.DefaultConfig(),
		progression.WithLogger(logger.NewNop()))
	return svc, store
}

func seedUser(t *testing.T, store *memory.Store, guild shared.GuildID, user shared.UserID, xp int64) {
	t.Helper()
	p := leveling.NewUserProgress(shared.MemberKey{GuildID: guild, UserID: user}, now)
	p.TotalXP = xp
	p.SyncLevel(leveling.DefaultLevelCurve())
	require.NoError(t, store.SaveUserData(context.Background(), p))
}

func TestBoosterSyncJob_FailingGuildDoesNotAbortScan(t *testing.T) {
	svc, store := newService(t)
	seedUser(t, store, 1, 10, 0)
	seedUser(t, store, 2, 20, 0)
	seedUser(t, store, 3, 30, 0)

	source := new(MockMembershipSource)
	source.On("Boosters", mock.Anything, shared.GuildID(1)).
		Return(leveling.BoosterSnapshot{TakenAt: now, Boosters: []leveling.Booster{{UserID: 10, Since: now.Add(-72 * time.Hour)}}}, nil)
	source.On("Boosters", mock.Anything, shared.GuildID(2)).
		Return(leveling.BoosterSnapshot{}, shared.WrapError("membership", "Boosters", shared.ErrServiceUnavailable, "down", nil))
	source.On("Boosters", mock.Anything, shared.GuildID(3)).
		Return(leveling.BoosterSnapshot{TakenAt: now, Boosters: []leveling.Booster{{UserID: 31}}}, nil)

	cfg := DefaultBoosterSyncConfig()
	cfg.Grace = 6 * time.Hour
	job := NewBoosterSyncJob(svc, source, logger.NewNop(), cfg)

	require.NoError(t, job.Run(context.Background()))
	source.AssertExpectations(t)

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Guilds)
	assert.Equal(t, 2, stats.GuildsSynced)
	assert.Equal(t, 1, stats.GuildsFailed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, shared.GuildID(2), stats.Errors[0].GuildID)
	assert.Equal(t, 1, stats.Activated)
	assert.Equal(t, 1, stats.Untracked)

	p, err := store.GetUserData(context.Background(), shared.MemberKey{GuildID: 1, UserID: 10})
	require.NoError(t, err)
	assert.True(t, p.BoostActive)
	assert.Equal(t, now.Add(6*time.Hour), p.BoostExpiresAt)
	assert.Equal(t, 3, p.BoostDays)
	assert.Zero(t, p.TotalXP)

	// A booster the guild never tracked gets no record.
	_, err = store.GetUserData(context.Background(), shared.MemberKey{GuildID: 3, UserID: 31})
	assert.True(t, shared.IsNotFound(err))
	count, err := store.CountUsers(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	p, err = store.GetUserData(context.Background(), shared.MemberKey{GuildID: 3, UserID: 30})
	require.NoError(t, err)
	assert.False(t, p.BoostActive)
}

func TestBoosterSyncJob_Idempotent(t *testing.T) {
	svc, store := newService(t)
	seedUser(t, store, 1, 10, 0)

	source := new(MockMembershipSource)
	source.On("Boosters", mock.Anything, shared.GuildID(1)).
		Return(leveling.BoosterSnapshot{TakenAt: now, Boosters: []leveling.Booster{{UserID: 10, Since: now}}}, nil)

	job := NewBoosterSyncJob(svc, source, logger.NewNop(), DefaultBoosterSyncConfig())
	require.NoError(t, job.Run(context.Background()))
	first, err := store.GetUserData(context.Background(), shared.MemberKey{GuildID: 1, UserID: 10})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	second, err := store.GetUserData(context.Background(), shared.MemberKey{GuildID: 1, UserID: 10})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, job.LastStats().Activated)
}

type failingGuilds struct{ BoostApplier }

func (failingGuilds) ListGuilds(context.Context) ([]shared.GuildID, error) {
	return nil, shared.StorageError("memory", "ListGuilds", errors.New("boom"))
}

func TestBoosterSyncJob_GuildListFailure(t *testing.T) {
	job := NewBoosterSyncJob(failingGuilds{}, new(MockMembershipSource), logger.NewNop(), DefaultBoosterSyncConfig())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsStorageUnavailable(err))
}

func TestRebuildRanksJob(t *testing.T) {
	svc, store := newService(t)
	seedUser(t, store, 1, 10, 100)
	seedUser(t, store, 1, 11, 300)
	seedUser(t, store, 1, 12, 200)
	seedUser(t, store, 2, 10, 5)

	job := NewRebuildRanksJob(svc, logger.NewNop(), time.Minute)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Guilds)
	assert.Equal(t, 4, stats.RanksUpdated)

	ranks := map[shared.UserID]int{}
	users, err := store.ListUsers(context.Background(), 1)
	require.NoError(t, err)
	for _, u := range users {
		ranks[u.UserID] = u.CurrentRank
	}
	assert.Equal(t, map[shared.UserID]int{11: 1, 12: 2, 10: 3}, ranks)

	// Unchanged order writes nothing.
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, job.LastStats().RanksUpdated)
}
