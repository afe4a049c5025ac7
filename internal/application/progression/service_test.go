package progression

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/memory"
	"github.com/guildkit/guild-leveling/pkg/logger"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

const (
	guild shared.GuildID = 900
	alice shared.UserID  = 1
	bob   shared.UserID  = 2
	carol shared.UserID  = 3
	dave  shared.UserID  = 4
)

var now = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

// rollTwenty makes every message worth 15+5 = 20 XP.
func rollTwenty(int64) int64 { return 5 }

func testEngine(t *testing.T) *achievement.Engine {
	t.Helper()
	catalog, err := achievement.NewCatalog([]achievement.Achievement{
		{ID: "chatterbox", Category: achievement.CategoryMessages, Criteria: achievement.Criteria{Kind: achievement.KindMessageCountAtLeast, Value: 100}, RewardXP: 50},
		{ID: "week_warrior", Category: achievement.CategoryStreak, Criteria: achievement.Criteria{Kind: achievement.KindStreakAtLeast, Value: 7}},
		{ID: "hello", Category: achievement.CategoryCommands, Criteria: achievement.Criteria{Kind: achievement.KindCommandCountAtLeast, Value: 1}, RewardXP: 5},
	})
	require.NoError(t, err)
	return achievement.NewEngine(catalog, leveling.DefaultLevelCurve())
}

func newTestService(t *testing.T, store leveling.Store) *Service {
	t.Helper()
	return NewService(store, testEngine(t), DefaultConfig(),
		WithRoller(rollTwenty),
		WithLogger(logger.NewNop()),
		WithCalendar(timeutil.NewCalendar(time.UTC)),
	)
}

func seed(t *testing.T, store *memory.Store, user shared.UserID, edit func(p *leveling.UserProgress)) {
	t.Helper()
	p := leveling.NewUserProgress(shared.MemberKey{GuildID: guild, UserID: user}, now.Add(-48*time.Hour))
	edit(p)
	p.SyncLevel(leveling.DefaultLevelCurve())
	require.NoError(t, store.SaveUserData(context.Background(), p))
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE XP
// ══════════════════════════════════════════════════════════════════════════════

func TestAwardMessageXP_LevelsFollowThresholds(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	out, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int64(20), out.XPAwarded)
	assert.Equal(t, int64(20), out.TotalXP)
	assert.Equal(t, 0, out.NewLevel)
	assert.False(t, out.LeveledUp())

	out, err = svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 0, out.NewLevel)

	out, err = svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int64(60), out.TotalXP)
	assert.Equal(t, 1, out.NewLevel)
	assert.Equal(t, []int{1}, out.LevelsCrossed)
	assert.Equal(t, int64(5), out.LevelProgress.XPInLevel)
}

func TestAwardMessageXP_CooldownIsSilent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	_, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now)
	require.NoError(t, err)

	out, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{HasImage: true}, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Nil(t, out)

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.MessageCount)
	assert.Equal(t, int64(0), p.Content.ImagesShared)
	assert.Equal(t, int64(20), p.TotalXP)

	history, err := svc.GetXPHistory(ctx, guild, alice)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAwardMessageXP_UnlocksOnHundredthMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) {
		p.MessageCount = 99
		p.TotalXP = 0
	})

	out, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{Length: 300}, now)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, out.Achievements, 1)
	assert.Equal(t, "chatterbox", out.Achievements[0].ID)
	assert.Equal(t, int64(50), out.AchievementXP)
	assert.Equal(t, int64(70), out.TotalXP)
	assert.Equal(t, []int{1}, out.LevelsCrossed)

	history, err := svc.GetXPHistory(ctx, guild, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	sources := []leveling.XPSource{history[0].Source, history[1].Source}
	assert.ElementsMatch(t, []leveling.XPSource{leveling.SourceMessage, leveling.SourceAchievement}, sources)

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Content.LongMessages)

	// Unlocked achievements are never awarded twice.
	out, err = svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Empty(t, out.Achievements)
	assert.Equal(t, int64(90), out.TotalXP)
}

func TestAwardMessageXP_InvalidIDs(t *testing.T) {
	svc := newTestService(t, memory.NewStore())

	_, err := svc.AwardMessageXP(context.Background(), 0, alice, leveling.MessageContent{}, now)
	assert.ErrorIs(t, err, shared.ErrInvalidGuildID)

	_, err = svc.AwardMessageXP(context.Background(), guild, 0, leveling.MessageContent{}, now)
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestAwardXP_ConcurrentGrantsLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	const workers = 50
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := now.Add(time.Duration(i) * time.Hour)
			_, err := svc.AwardXP(ctx, guild, alice, 10, "burst", at)
			assert.NoError(t, err)
			_, err = svc.AwardXP(ctx, guild, bob, 3, "burst", at)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	b, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: bob})
	require.NoError(t, err)

	assert.Equal(t, int64(workers*10), a.TotalXP)
	assert.Equal(t, int64(workers*3), b.TotalXP)
	assert.Equal(t, leveling.DefaultLevelCurve().LevelFor(a.TotalXP), a.Level)
	assert.Zero(t, svc.locks.size())
}

func TestAwardMessageXP_SimultaneousBurstAwardsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 40 })

	const workers = 64
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		awarded  int64
		outcomes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now)
			assert.NoError(t, err)
			if out == nil {
				return
			}
			mu.Lock()
			outcomes++
			awarded += out.XPAwarded + out.AchievementXP
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes)

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(20), awarded)
	assert.Equal(t, 40+awarded, p.TotalXP)
	assert.Equal(t, int64(1), p.MessageCount)

	events, err := store.ListEvents(ctx, p.Key(), time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS & ADMIN
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordCommand(t *testing.T) {
	svc := newTestService(t, memory.NewStore())

	out, err := svc.RecordCommand(context.Background(), guild, alice, now)
	require.NoError(t, err)
	require.Len(t, out.Achievements, 1)
	assert.Equal(t, "hello", out.Achievements[0].ID)
	assert.Equal(t, int64(5), out.TotalXP)

	out, err = svc.RecordCommand(context.Background(), guild, alice, now)
	require.NoError(t, err)
	assert.Empty(t, out.Achievements)
	assert.Equal(t, int64(5), out.TotalXP)
}

func TestAwardXP_NegativeClampsAtZero(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	out, err := svc.AwardXP(ctx, guild, alice, 400, "event prize", now)
	require.NoError(t, err)
	assert.Equal(t, 5, out.NewLevel)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, out.LevelsCrossed)

	out, err = svc.AwardXP(ctx, guild, alice, -1000, "correction", now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.TotalXP)
	assert.Equal(t, int64(-400), out.XPAwarded)
	assert.Equal(t, 0, out.NewLevel)
	assert.Empty(t, out.LevelsCrossed)

	_, err = svc.AwardXP(ctx, guild, alice, 0, "noop", now)
	assert.True(t, shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY
// ══════════════════════════════════════════════════════════════════════════════

func TestClaimDaily_StreakAndDoubleClaim(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	today := timeutil.DateOf(now, time.UTC)
	seed(t, store, alice, func(p *leveling.UserProgress) {
		p.StreakCount = 6
		p.LastClaimDate = today.AddDays(-1)
	})

	out, err := svc.ClaimDaily(ctx, guild, alice, now)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Streak)
	assert.False(t, out.StreakReset)
	assert.Equal(t, int64(25), out.BaseReward)
	assert.Equal(t, int64(25), out.StreakBonus)
	assert.Equal(t, int64(50), out.XPAwarded)
	require.Len(t, out.Achievements, 1)
	assert.Equal(t, "week_warrior", out.Achievements[0].ID)

	_, err = svc.ClaimDaily(ctx, guild, alice, now.Add(11*time.Hour))
	assert.True(t, shared.IsAlreadyClaimed(err))

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, 7, p.StreakCount)
	assert.Equal(t, today, p.LastClaimDate)
	assert.Equal(t, int64(1), p.DailyClaims)
}

func TestClaimDaily_GapResetsStreak(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) {
		p.StreakCount = 4
		p.LastClaimDate = timeutil.DateOf(now, time.UTC).AddDays(-3)
	})

	out, err := svc.ClaimDaily(context.Background(), guild, alice, now)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Streak)
	assert.True(t, out.StreakReset)
	assert.Equal(t, int64(25), out.XPAwarded)
}

func TestClaimDaily_GoalBonusPaidOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(*leveling.UserProgress) {})
	seed(t, store, bob, func(*leveling.UserProgress) {})

	goal, err := svc.GetDailyGoal(ctx, guild, now)
	require.NoError(t, err)
	assert.Equal(t, 2, goal.Target)
	assert.Zero(t, goal.Progress)

	first, err := svc.ClaimDaily(ctx, guild, alice, now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Goal.Progress)
	assert.False(t, first.Goal.Completed)
	assert.Nil(t, first.GoalBonus)

	second, err := svc.ClaimDaily(ctx, guild, bob, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, second.Goal.Completed)
	assert.True(t, second.Goal.JustCompleted)
	require.NotNil(t, second.GoalBonus)
	assert.Equal(t, int64(15), second.GoalBonus.XPAwarded)

	for _, user := range []shared.UserID{alice, bob} {
		p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: user})
		require.NoError(t, err)
		assert.Equal(t, int64(25+15), p.TotalXP, "user %s", user)
		assert.Equal(t, int64(1), p.GoalsCompleted)
	}

	// A late claimer on a completed goal still counts and earns the bonus.
	seed(t, store, carol, func(*leveling.UserProgress) {})
	third, err := svc.ClaimDaily(ctx, guild, carol, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, third.Goal.Progress)
	assert.False(t, third.Goal.JustCompleted)
	require.NotNil(t, third.GoalBonus)

	a, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.TotalXP)
}

func TestClaimDaily_SimultaneousClaimsOneUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 10 })

	const workers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		claims   int
		rejected int
		awarded  int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.ClaimDaily(ctx, guild, alice, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, shared.IsAlreadyClaimed(err), "unexpected error: %v", err)
				rejected++
				return
			}
			claims++
			awarded += out.XPAwarded + out.AchievementXP
			if out.GoalBonus != nil {
				awarded += out.GoalBonus.XPAwarded + out.GoalBonus.AchievementXP
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)
	assert.Equal(t, workers-1, rejected)

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, 10+awarded, p.TotalXP)
	assert.Equal(t, int64(1), p.DailyClaims)
	assert.Equal(t, 1, p.StreakCount)

	goal, err := svc.GetDailyGoal(ctx, guild, now)
	require.NoError(t, err)
	assert.Equal(t, 1, goal.Progress)
}

func TestClaimDaily_ParallelClaimersCompleteGoalOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	users := make([]shared.UserID, 0, 8)
	for i := range 8 {
		user := shared.UserID(100 + i)
		users = append(users, user)
		seed(t, store, user, func(*leveling.UserProgress) {})
	}

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		justCompleted int
	)
	for _, user := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.ClaimDaily(ctx, guild, user, now)
			if !assert.NoError(t, err) {
				return
			}
			if out.Goal.JustCompleted {
				mu.Lock()
				justCompleted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, justCompleted)

	goal, err := svc.GetDailyGoal(ctx, guild, now)
	require.NoError(t, err)
	assert.Equal(t, len(users), goal.Target)
	assert.Equal(t, len(users), goal.Progress)
	assert.True(t, goal.Completed)

	for _, user := range users {
		p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: user})
		require.NoError(t, err)
		assert.Equal(t, int64(25+15), p.TotalXP, "user %s", user)
		assert.Equal(t, int64(1), p.GoalsCompleted, "user %s", user)
	}
	assert.Zero(t, svc.locks.size())
}

// ══════════════════════════════════════════════════════════════════════════════
// BOOSTERS & RANKS
// ══════════════════════════════════════════════════════════════════════════════

func TestApplyBoosterSnapshot_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(*leveling.UserProgress) {})
	seed(t, store, bob, func(*leveling.UserProgress) {})

	snapshot := leveling.BoosterSnapshot{
		GuildID:  guild,
		TakenAt:  now,
		Boosters: []leveling.Booster{{UserID: alice, Since: now.Add(-72 * time.Hour)}},
	}

	res, err := svc.ApplyBoosterSnapshot(ctx, snapshot, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Activated)
	assert.Equal(t, 1, res.Unchanged)

	key := shared.MemberKey{GuildID: guild, UserID: alice}
	before, err := store.GetUserData(ctx, key)
	require.NoError(t, err)
	assert.True(t, before.BoostActive)
	assert.Equal(t, 3, before.BoostDays)
	assert.Equal(t, now.Add(6*time.Hour), before.BoostExpiresAt)

	res, err = svc.ApplyBoosterSnapshot(ctx, snapshot, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unchanged)

	after, err := store.GetUserData(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	out, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, out.Boosted)
	assert.Equal(t, int64(20), out.BaseXP)
	assert.Equal(t, int64(30), out.XPAwarded)

	res, err = svc.ApplyBoosterSnapshot(ctx, leveling.BoosterSnapshot{GuildID: guild, TakenAt: now.Add(2 * time.Hour)}, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deactivated)

	p, err := store.GetUserData(ctx, key)
	require.NoError(t, err)
	assert.False(t, p.BoostActive)
	assert.Equal(t, int64(30), p.TotalXP, "boost sync never touches xp")
}

func TestApplyBoosterSnapshot_UntrackedBoosterGetsNoRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(*leveling.UserProgress) {})

	res, err := svc.ApplyBoosterSnapshot(ctx, leveling.BoosterSnapshot{
		GuildID:  guild,
		TakenAt:  now,
		Boosters: []leveling.Booster{{UserID: alice}, {UserID: bob}},
	}, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Activated)
	assert.Equal(t, 1, res.Untracked)

	_, err = store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: bob})
	assert.True(t, shared.IsNotFound(err))

	goal, err := svc.GetDailyGoal(ctx, guild, now)
	require.NoError(t, err)
	assert.Equal(t, 1, goal.Target)

	page, err := svc.GetLeaderboard(ctx, guild, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestRebuildRanks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 100 })
	seed(t, store, bob, func(p *leveling.UserProgress) { p.TotalXP = 300 })
	seed(t, store, carol, func(p *leveling.UserProgress) { p.TotalXP = 100 })

	updated, err := svc.RebuildRanks(ctx, guild, now)
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	ranks := map[shared.UserID]int{bob: 1, alice: 2, carol: 3}
	for user, rank := range ranks {
		profile, err := svc.GetProfile(ctx, guild, user)
		require.NoError(t, err)
		assert.Equal(t, rank, profile.CurrentRank, "user %s", user)
		assert.Equal(t, rank, profile.BestRank)
	}

	updated, err = svc.RebuildRanks(ctx, guild, now)
	require.NoError(t, err)
	assert.Zero(t, updated)

	_, err = svc.AwardXP(ctx, guild, carol, 500, "", now)
	require.NoError(t, err)
	_, err = svc.RebuildRanks(ctx, guild, now)
	require.NoError(t, err)

	profile, err := svc.GetProfile(ctx, guild, carol)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.CurrentRank)
	assert.Equal(t, 3, profile.PreviousRank)
	assert.Equal(t, 2, profile.RankImprovement)
}

// ══════════════════════════════════════════════════════════════════════════════
// TWO PROCESSES, ONE STORE
// ══════════════════════════════════════════════════════════════════════════════

// interleavingStore runs between once, right after the first GetUserData
// returns, to let another writer commit inside this one's read-modify-write.
type interleavingStore struct {
	leveling.Store
	once    sync.Once
	between func()
}

func (s *interleavingStore) GetUserData(ctx context.Context, key shared.MemberKey) (*leveling.UserProgress, error) {
	p, err := s.Store.GetUserData(ctx, key)
	s.once.Do(s.between)
	return p, err
}

func TestApplyBoosterSnapshot_KeepsAwardCommittedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 100 })

	bot := newTestService(t, store)
	worker := newTestService(t, &interleavingStore{Store: store, between: func() {
		_, err := bot.AwardXP(ctx, guild, alice, 500, "grant", now)
		require.NoError(t, err)
	}})

	res, err := worker.ApplyBoosterSnapshot(ctx, leveling.BoosterSnapshot{
		GuildID:  guild,
		TakenAt:  now,
		Boosters: []leveling.Booster{{UserID: alice}},
	}, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Activated)

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(600), p.TotalXP)
	assert.True(t, p.BoostActive)

	events, err := store.ListEvents(ctx, p.Key(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, leveling.SourceAdmin, events[0].Source)
}

func TestRebuildRanks_KeepsAchievementsUnlockedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 100 })
	seed(t, store, bob, func(p *leveling.UserProgress) { p.TotalXP = 300 })

	bot := newTestService(t, store)
	worker := newTestService(t, &interleavingStore{Store: store, between: func() {
		// bob ranks first, so his record is the one being rewritten
		_, err := bot.RecordCommand(ctx, guild, bob, now)
		require.NoError(t, err)
	}})

	updated, err := worker.RebuildRanks(ctx, guild, now)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	p, err := store.GetUserData(ctx, shared.MemberKey{GuildID: guild, UserID: bob})
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentRank)
	assert.Equal(t, []string{"hello"}, p.Achievements)
	assert.Equal(t, int64(1), p.CommandCount)
	assert.Equal(t, int64(305), p.TotalXP)
}

// staleStore rejects every commit as if another process always wins.
type staleStore struct {
	*memory.Store
	commits int
}

func (s *staleStore) CommitProgress(context.Context, *leveling.UserProgress, []leveling.XPEvent) error {
	s.commits++
	return leveling.ErrStaleProgress
}

func TestMutate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &staleStore{Store: memory.NewStore()}
	svc := newTestService(t, store)

	_, err := svc.AwardXP(context.Background(), guild, alice, 10, "", now)
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
	assert.False(t, shared.IsStorageUnavailable(err))
	assert.Equal(t, maxCommitAttempts, store.commits)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func TestGetLeaderboard_OrderAndPaging(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, dave, func(p *leveling.UserProgress) { p.TotalXP = 50 })
	seed(t, store, carol, func(p *leveling.UserProgress) { p.TotalXP = 100 })
	seed(t, store, bob, func(p *leveling.UserProgress) { p.TotalXP = 300 })
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 100 })

	page, err := svc.GetLeaderboard(ctx, guild, 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, bob, page.Entries[0].UserID)
	assert.Equal(t, alice, page.Entries[1].UserID)
	assert.Equal(t, 2, page.Entries[1].Rank)
	assert.Equal(t, 4, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	page, err = svc.GetLeaderboard(ctx, guild, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, carol, page.Entries[0].UserID)
	assert.Equal(t, 3, page.Entries[0].Rank)
	assert.Equal(t, dave, page.Entries[1].UserID)
	assert.False(t, page.HasNext)

	page, err = svc.GetLeaderboard(ctx, guild, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestGetLeaderboard_HugePageIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) { p.TotalXP = 100 })

	page, err := svc.GetLeaderboard(ctx, guild, math.MaxInt, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Equal(t, 1, page.TotalCount)
	assert.False(t, page.HasNext)
	assert.Positive(t, page.Page)
}

func TestGetProfile_UnknownUserIsZeroedAndNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	profile, err := svc.GetProfile(ctx, guild, alice)
	require.NoError(t, err)
	assert.Zero(t, profile.TotalXP)
	assert.Zero(t, profile.Level)
	assert.Equal(t, int64(55), profile.LevelProgress.XPToNext)

	count, err := store.CountUsers(ctx, guild)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetAchievementsAndNext(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	seed(t, store, alice, func(p *leveling.UserProgress) {
		p.MessageCount = 80
		p.StreakCount = 1
		p.Achievements = []string{"hello"}
	})

	unlocked, locked, err := svc.GetAchievements(ctx, guild, alice)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "hello", unlocked[0].ID)
	assert.Len(t, locked, 2)

	next, err := svc.GetNextAchievement(ctx, guild, alice)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "chatterbox", next.Achievement.ID)
	assert.InDelta(t, 0.8, next.Progress, 1e-9)
}

func TestGetXPStats_BySourceWithinWindow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	_, err := svc.AwardXP(ctx, guild, alice, 100, "old", now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	_, err = svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now)
	require.NoError(t, err)
	_, err = svc.ClaimDaily(ctx, guild, alice, now)
	require.NoError(t, err)

	stats, err := svc.GetXPStats(ctx, guild, alice, 0, now)
	require.NoError(t, err)
	assert.Equal(t, leveling.SourceStats{XP: 40, Count: 2}, stats.BySource[leveling.SourceMessage])
	assert.Equal(t, leveling.SourceStats{XP: 25, Count: 1}, stats.BySource[leveling.SourceDaily])
	assert.Equal(t, leveling.SourceStats{XP: 15, Count: 1}, stats.BySource[leveling.SourceGoal])
	assert.NotContains(t, stats.BySource, leveling.SourceAdmin)
	assert.Equal(t, int64(80), stats.TotalXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE FAILURES
// ══════════════════════════════════════════════════════════════════════════════

type failingStore struct {
	*memory.Store
}

func (failingStore) CommitProgress(context.Context, *leveling.UserProgress, []leveling.XPEvent) error {
	return shared.StorageError("memory", "CommitProgress", errors.New("disk on fire"))
}

func TestStorageUnavailablePropagates(t *testing.T) {
	ctx := context.Background()
	store := failingStore{Store: memory.NewStore()}
	svc := newTestService(t, store)

	_, err := svc.AwardMessageXP(ctx, guild, alice, leveling.MessageContent{}, now)
	assert.True(t, shared.IsStorageUnavailable(err))

	_, err = svc.ClaimDaily(ctx, guild, alice, now)
	assert.True(t, shared.IsStorageUnavailable(err))

	events, err := store.ListEvents(ctx, shared.MemberKey{GuildID: guild, UserID: alice}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
