package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

var now = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

func progress(guild shared.GuildID, user shared.UserID, xp int64) *leveling.UserProgress {
	p := leveling.NewUserProgress(shared.MemberKey{GuildID: guild, UserID: user}, now)
	p.TotalXP = xp
	return p
}

func TestStore_GetMissingUser(t *testing.T) {
	s := NewStore()
	_, err := s.GetUserData(context.Background(), shared.MemberKey{GuildID: 1, UserID: 1})
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_CopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	p := progress(1, 7, 10)
	p.Achievements = []string{"a"}
	require.NoError(t, s.SaveUserData(ctx, p))

	p.TotalXP = 999
	p.Achievements[0] = "mutated"

	got, err := s.GetUserData(ctx, p.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TotalXP)
	assert.Equal(t, []string{"a"}, got.Achievements)

	got.TotalXP = 5
	again, err := s.GetUserData(ctx, p.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.TotalXP)
}

func TestStore_LeaderboardOrderAndBounds(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, p := range []*leveling.UserProgress{
		progress(1, 4, 50), progress(1, 3, 100), progress(1, 2, 300), progress(1, 1, 100), progress(2, 9, 1000),
	} {
		require.NoError(t, s.SaveUserData(ctx, p))
	}

	rows, total, err := s.GetLeaderboard(ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	ids := make([]shared.UserID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	assert.Equal(t, []shared.UserID{2, 1, 3, 4}, ids)

	rows, _, err = s.GetLeaderboard(ctx, 1, 3, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, shared.UserID(4), rows[0].UserID)

	rows, _, err = s.GetLeaderboard(ctx, 1, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	guilds, err := s.ListGuilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shared.GuildID{1, 2}, guilds)
}

func TestStore_EventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := shared.MemberKey{GuildID: 1, UserID: 1}

	require.NoError(t, s.CommitProgress(ctx, progress(1, 1, 30), []leveling.XPEvent{
		leveling.NewXPEvent(key, 10, leveling.SourceMessage, "", now.Add(-2*time.Hour)),
		leveling.NewXPEvent(key, 20, leveling.SourceDaily, "", now.Add(-time.Hour)),
	}))
	require.NoError(t, s.AppendEvent(ctx, leveling.NewXPEvent(key, 5, leveling.SourceAdmin, "fix", now)))

	events, err := s.ListEvents(ctx, key, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(5), events[0].Amount)
	assert.Equal(t, int64(10), events[2].Amount)

	events, err = s.ListEvents(ctx, key, now.Add(-90*time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.ListEvents(ctx, key, time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, leveling.SourceAdmin, events[0].Source)
}

func TestStore_CommitRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := shared.MemberKey{GuildID: 1, UserID: 1}

	first := progress(1, 1, 10)
	require.NoError(t, s.CommitProgress(ctx, first, nil))
	assert.Equal(t, int64(1), first.Version)

	read, err := s.GetUserData(ctx, key)
	require.NoError(t, err)
	other := read.Clone()

	read.TotalXP = 50
	require.NoError(t, s.CommitProgress(ctx, read, []leveling.XPEvent{
		leveling.NewXPEvent(key, 40, leveling.SourceAdmin, "", now),
	}))

	other.BoostActive = true
	err = s.CommitProgress(ctx, other, []leveling.XPEvent{
		leveling.NewXPEvent(key, 1, leveling.SourceAdmin, "", now),
	})
	assert.ErrorIs(t, err, leveling.ErrStaleProgress)
	assert.True(t, shared.IsConflict(err))

	got, err := s.GetUserData(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.TotalXP)
	assert.False(t, got.BoostActive)
	assert.Equal(t, int64(2), got.Version)

	events, err := s.ListEvents(ctx, key, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_DailyGoal(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	date := timeutil.DateOf(now, time.UTC)

	_, err := s.GetDailyGoal(ctx, 1, date)
	assert.ErrorIs(t, err, shared.ErrGoalNotFound)

	goal := leveling.NewDailyGoal(1, date, 3)
	goal.Contribute(7, now)
	require.NoError(t, s.SaveDailyGoal(ctx, goal))

	got, err := s.GetDailyGoal(ctx, 1, date)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Progress)
	assert.Equal(t, []shared.UserID{7}, got.Claimers)

	_, err = s.GetDailyGoal(ctx, 1, date.AddDays(1))
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStore().SaveUserData(ctx, progress(1, 1, 0))
	assert.True(t, shared.IsStorageUnavailable(err))
}
