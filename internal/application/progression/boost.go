package progression

import (
	"context"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOOSTER SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// BoostSyncResult summarizes one guild's snapshot application.
type BoostSyncResult struct {
	GuildID     shared.GuildID `json:"guild_id"`
	Boosters    int            `json:"boosters"`
	Activated   int            `json:"activated"`
	Deactivated int            `json:"deactivated"`
	Refreshed   int            `json:"refreshed"`
	Unchanged   int            `json:"unchanged"`

	// Untracked boosters have no record yet and are left alone.
	Untracked int `json:"untracked"`
}

// ApplyBoosterSnapshot writes boost status for every tracked user of the guild.
// Only boost fields change; XP, levels and achievements do not. Boosters
// without a record are counted as Untracked and get no record; their record
// appears on first activity and the next sync boosts it.
// Each user is updated in its own serialized section.
func (s *Service) ApplyBoosterSnapshot(ctx context.Context, snapshot leveling.BoosterSnapshot, grace time.Duration) (BoostSyncResult, error) {
	result := BoostSyncResult{GuildID: snapshot.GuildID, Boosters: len(snapshot.Boosters)}
	if !snapshot.GuildID.IsValid() {
		return result, shared.ErrInvalidGuildID
	}

	boosters := make(map[shared.UserID]leveling.Booster, len(snapshot.Boosters))
	for _, b := range snapshot.Boosters {
		if b.UserID.IsValid() {
			boosters[b.UserID] = b
		}
	}

	tracked, err := s.store.ListUsers(ctx, snapshot.GuildID)
	if err != nil {
		return result, err
	}

	targets := make([]shared.UserID, 0, len(tracked))
	seen := make(map[shared.UserID]bool, len(tracked))
	for _, p := range tracked {
		seen[p.UserID] = true
		targets = append(targets, p.UserID)
	}
	for id := range boosters {
		if !seen[id] {
			result.Untracked++
		}
	}

	for _, userID := range targets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		key := shared.MemberKey{GuildID: snapshot.GuildID, UserID: userID}
		var booster *leveling.Booster
		if b, ok := boosters[userID]; ok {
			booster = &b
		}

		var before, after bool
		_, changed, err := s.mutate(ctx, key, snapshot.TakenAt, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
			before = p.BoostActive
			prev := *p
			leveling.ApplyBoost(p, booster, snapshot, grace, s.calendar)
			after = p.BoostActive
			return boostChanged(&prev, p), nil, nil
		})
		if err != nil {
			return result, err
		}

		switch {
		case !changed:
			result.Unchanged++
		case !before && after:
			result.Activated++
		case before && !after:
			result.Deactivated++
		default:
			result.Refreshed++
		}
	}
	return result, nil
}

func boostChanged(a, b *leveling.UserProgress) bool {
	return a.BoostActive != b.BoostActive ||
		!a.BoostExpiresAt.Equal(b.BoostExpiresAt) ||
		a.BoostDays != b.BoostDays ||
		!a.FirstBoostAt.Equal(b.FirstBoostAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKS
// ══════════════════════════════════════════════════════════════════════════════

// RebuildRanks recomputes leaderboard positions for a guild and stores
// current, previous and best rank on each record. Rank achievements are
// evaluated on the user's next XP-affecting operation.
func (s *Service) RebuildRanks(ctx context.Context, guildID shared.GuildID, now time.Time) (int, error) {
	users, err := s.store.ListUsers(ctx, guildID)
	if err != nil {
		return 0, err
	}
	leveling.SortForLeaderboard(users)

	updated := 0
	for i, u := range users {
		rank := i + 1
		if u.CurrentRank == rank {
			continue
		}
		_, changed, err := s.mutate(ctx, u.Key(), now, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
			if p.CurrentRank == rank {
				return false, nil, nil
			}
			p.RecordRank(rank)
			return true, nil, nil
		})
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}
