package progression

import (
	"context"
	"math"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile is a read-only snapshot of a user's progress.
type Profile struct {
	*leveling.UserProgress
	LevelProgress leveling.LevelProgress `json:"level_progress"`
}

// GetProfile returns the user's progress, zeroed when the user has no activity yet.
// The synthesized record is not persisted.
func (s *Service) GetProfile(ctx context.Context, guildID shared.GuildID, userID shared.UserID) (*Profile, error) {
	p, err := s.snapshot(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{UserProgress: p, LevelProgress: s.config.Curve.Progress(p.TotalXP)}, nil
}

func (s *Service) snapshot(ctx context.Context, guildID shared.GuildID, userID shared.UserID) (*leveling.UserProgress, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, key, time.Time{})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievements splits the catalog into unlocked and locked entries.
func (s *Service) GetAchievements(ctx context.Context, guildID shared.GuildID, userID shared.UserID) (unlocked, locked []achievement.Achievement, err error) {
	p, err := s.snapshot(ctx, guildID, userID)
	if err != nil {
		return nil, nil, err
	}
	unlocked, locked = s.engine.Partition(p)
	return unlocked, locked, nil
}

// NextAchievement is the closest unearned achievement.
type NextAchievement struct {
	Achievement achievement.Achievement `json:"achievement"`
	Progress    float64                 `json:"progress"`
}

// GetNextAchievement returns nil when everything is unlocked.
func (s *Service) GetNextAchievement(ctx context.Context, guildID shared.GuildID, userID shared.UserID) (*NextAchievement, error) {
	p, err := s.snapshot(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	a, frac, ok := s.engine.Next(p)
	if !ok {
		return nil, nil
	}
	return &NextAchievement{Achievement: a, Progress: frac}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardEntry is a summary row.
type LeaderboardEntry struct {
	Rank         int           `json:"rank"`
	UserID       shared.UserID `json:"user_id"`
	TotalXP      int64         `json:"total_xp"`
	Level        int           `json:"level"`
	MessageCount int64         `json:"message_count"`
	StreakCount  int           `json:"streak_count"`
	Achievements int           `json:"achievements"`
}

// LeaderboardPage is a paginated leaderboard.
type LeaderboardPage struct {
	GuildID    shared.GuildID     `json:"guild_id"`
	Entries    []LeaderboardEntry `json:"entries"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
	HasNext    bool               `json:"has_next"`
	HasPrev    bool               `json:"has_prev"`
}

// GetLeaderboard returns a 1-based page ordered by total XP descending,
// ties by user id ascending. Eventual read: in-flight updates may not show.
func (s *Service) GetLeaderboard(ctx context.Context, guildID shared.GuildID, page, pageSize int) (*LeaderboardPage, error) {
	if !guildID.IsValid() {
		return nil, shared.ErrInvalidGuildID
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if s.config.MaxPageSize > 0 && pageSize > s.config.MaxPageSize {
		pageSize = s.config.MaxPageSize
	}

	// Past this page the offset overflows; every such page is empty anyway.
	page = min(page, math.MaxInt/pageSize)
	offset := (page - 1) * pageSize
	rows, total, err := s.store.GetLeaderboard(ctx, guildID, offset, pageSize)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for i, p := range rows {
		entries = append(entries, LeaderboardEntry{
			Rank:         offset + i + 1,
			UserID:       p.UserID,
			TotalXP:      p.TotalXP,
			Level:        s.config.Curve.LevelFor(p.TotalXP),
			MessageCount: p.MessageCount,
			StreakCount:  p.StreakCount,
			Achievements: len(p.Achievements),
		})
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &LeaderboardPage{
		GuildID:    guildID,
		Entries:    entries,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// XP STATS & HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// GetXPStats aggregates the user's events in (now-window, now] by source.
// Computed at read time, never cached.
func (s *Service) GetXPStats(ctx context.Context, guildID shared.GuildID, userID shared.UserID, window time.Duration, now time.Time) (leveling.XPStats, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return leveling.XPStats{}, err
	}
	if window <= 0 {
		window = s.config.DefaultStatsWindow
	}
	since := now.Add(-window)

	events, err := s.store.ListEvents(ctx, key, since, 0)
	if err != nil {
		return leveling.XPStats{}, err
	}
	return leveling.AggregateXPStats(key, events, since, now), nil
}

// GetXPHistory returns the most recent events, newest first, capped at HistoryCap.
func (s *Service) GetXPHistory(ctx context.Context, guildID shared.GuildID, userID shared.UserID) ([]leveling.XPEvent, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, key, time.Time{}, s.config.HistoryCap)
}

// ListGuilds returns every guild with tracked users.
func (s *Service) ListGuilds(ctx context.Context) ([]shared.GuildID, error) {
	return s.store.ListGuilds(ctx)
}
