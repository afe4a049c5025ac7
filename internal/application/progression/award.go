package progression

import (
	"context"
	"errors"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD MESSAGE XP
// ══════════════════════════════════════════════════════════════════════════════

// AwardMessageXP grants XP for a chat message.
// Returns (nil, nil) when the user is on cooldown: nothing is written and no event is recorded.
func (s *Service) AwardMessageXP(ctx context.Context, guildID shared.GuildID, userID shared.UserID, content leveling.MessageContent, now time.Time) (*AwardOutcome, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return nil, err
	}

	var outcome AwardOutcome
	p, committed, err := s.mutate(ctx, key, now, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
		if err := s.cooldown.Check(p, now); err != nil {
			return false, nil, err
		}

		st := newAwardState(p, leveling.SourceMessage)
		st.boosted = s.config.Boost.HasXPBoost(p, now)
		st.baseXP = s.config.MessageReward.Roll(s.roll)

		p.RecordMessage(content, now)
		s.grant(p, st, s.config.Boost.Apply(st.baseXP, st.boosted), "", now)
		s.unlockAchievements(p, st, now)

		outcome = s.outcome(p, st)
		return true, st.events, nil
	})
	if errors.Is(err, shared.ErrCooldownActive) {
		s.logger.Debug("message xp on cooldown",
			logger.GuildID(guildID), logger.UserID(userID),
			logger.Duration("remaining", s.cooldown.Remaining(p, now)))
		return nil, nil
	}
	if err != nil || !committed {
		return nil, err
	}

	s.logOutcome("message xp awarded", &outcome)
	return &outcome, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RecordCommand counts a bot command invocation and re-checks achievements.
// Commands earn no XP of their own.
func (s *Service) RecordCommand(ctx context.Context, guildID shared.GuildID, userID shared.UserID, now time.Time) (*AwardOutcome, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return nil, err
	}

	var outcome AwardOutcome
	_, _, err = s.mutate(ctx, key, now, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
		st := newAwardState(p, leveling.SourceAchievement)
		p.CommandCount++
		s.unlockAchievements(p, st, now)

		outcome = s.outcome(p, st)
		return true, st.events, nil
	})
	if err != nil {
		return nil, err
	}

	if len(outcome.Achievements) > 0 {
		s.logOutcome("command unlocked achievements", &outcome)
	}
	return &outcome, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AWARD
// ══════════════════════════════════════════════════════════════════════════════

// AwardXP is an administrative grant or correction. Negative amounts are
// allowed and the total never drops below zero. The level is recomputed by
// full search, so arbitrary jumps are safe. Unlocked achievements are kept.
func (s *Service) AwardXP(ctx context.Context, guildID shared.GuildID, userID shared.UserID, amount int64, reason string, now time.Time) (*AwardOutcome, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, shared.NewDomainError("leveling", "AwardXP", shared.ErrInvalidInput, "amount must not be zero")
	}

	var outcome AwardOutcome
	_, _, err = s.mutate(ctx, key, now, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
		st := newAwardState(p, leveling.SourceAdmin)
		st.baseXP = amount

		applied := amount
		if applied < 0 && p.TotalXP+applied < 0 {
			applied = -p.TotalXP
		}
		s.grant(p, st, applied, reason, now)
		s.unlockAchievements(p, st, now)

		outcome = s.outcome(p, st)
		return true, st.events, nil
	})
	if err != nil {
		return nil, err
	}

	s.logOutcome("admin xp applied", &outcome)
	return &outcome, nil
}

// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) logOutcome(msg string, o *AwardOutcome) {
	fields := []logger.Field{
		logger.GuildID(o.GuildID),
		logger.UserID(o.UserID),
		logger.XPAmount(o.XPAwarded),
		logger.Int64("total_xp", o.TotalXP),
	}
	if o.LeveledUp() {
		fields = append(fields, logger.Int("new_level", o.NewLevel), logger.Int("levels_crossed", len(o.LevelsCrossed)))
	}
	if len(o.Achievements) > 0 {
		ids := make([]string, 0, len(o.Achievements))
		for _, a := range o.Achievements {
			ids = append(ids, a.ID)
		}
		fields = append(fields, logger.Any("achievements", ids))
	}

	if o.LeveledUp() || len(o.Achievements) > 0 {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Debug(msg, fields...)
}
