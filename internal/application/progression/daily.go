package progression

import (
	"context"
	"errors"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/logger"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM DAILY
// ══════════════════════════════════════════════════════════════════════════════

// ClaimDaily grants the daily reward and advances the streak.
// A second claim on the same calendar date fails with shared.ErrAlreadyClaimedToday.
//
// The user lock is released before the goal lock is taken. Goal bonuses take
// user locks inside the goal lock; no path takes the goal lock while holding a user lock.
func (s *Service) ClaimDaily(ctx context.Context, guildID shared.GuildID, userID shared.UserID, now time.Time) (*ClaimOutcome, error) {
	key, err := shared.NewMemberKey(guildID, userID)
	if err != nil {
		return nil, err
	}
	today := s.calendar.Today(now)

	var outcome ClaimOutcome
	_, _, err = s.mutate(ctx, key, now, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
		claim, err := s.config.Daily.Claim(p, today)
		if err != nil {
			return false, nil, err
		}

		st := newAwardState(p, leveling.SourceDaily)
		st.boosted = s.config.Boost.HasXPBoost(p, now)
		st.baseXP = claim.Reward()

		s.grant(p, st, s.config.Boost.Apply(st.baseXP, st.boosted), today.String(), now)
		s.unlockAchievements(p, st, now)

		outcome = ClaimOutcome{
			AwardOutcome: s.outcome(p, st),
			Streak:       claim.Streak,
			StreakReset:  claim.StreakReset,
			BaseReward:   claim.BaseReward,
			StreakBonus:  claim.StreakBonus,
		}
		return true, st.events, nil
	})
	if err != nil {
		if shared.IsAlreadyClaimed(err) {
			s.logger.Debug("daily already claimed", logger.GuildID(guildID), logger.UserID(userID))
		}
		return nil, err
	}
	s.logOutcome("daily reward claimed", &outcome.AwardOutcome)

	// The claim is committed; goal bookkeeping failures are logged, not surfaced.
	goal, bonus, err := s.contributeToGoal(ctx, key, today, now)
	if err != nil {
		s.logger.Error("failed to update daily goal",
			logger.GuildID(guildID), logger.UserID(userID), logger.Err(err))
		return &outcome, nil
	}
	outcome.Goal = goal
	outcome.GoalBonus = bonus
	return &outcome, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER GOAL
// ══════════════════════════════════════════════════════════════════════════════

// GetDailyGoal returns the guild goal for the calendar date of now,
// creating it with a target fixed for that date on first access.
func (s *Service) GetDailyGoal(ctx context.Context, guildID shared.GuildID, now time.Time) (GoalState, error) {
	if !guildID.IsValid() {
		return GoalState{}, shared.ErrInvalidGuildID
	}
	date := s.calendar.Today(now)

	unlock, err := s.locks.Lock(ctx, goalLockKey(guildID))
	if err != nil {
		return GoalState{}, err
	}
	defer unlock()

	goal, created, err := s.loadOrCreateGoal(ctx, guildID, date)
	if err != nil {
		return GoalState{}, err
	}
	if created {
		if err := s.store.SaveDailyGoal(ctx, goal); err != nil {
			return GoalState{}, err
		}
	}
	return goalState(goal, false), nil
}

// contributeToGoal counts the claim toward today's goal and pays out the
// completion bonus to every claimer still owed it.
func (s *Service) contributeToGoal(ctx context.Context, claimer shared.MemberKey, date timeutil.Date, now time.Time) (GoalState, *AwardOutcome, error) {
	unlock, err := s.locks.Lock(ctx, goalLockKey(claimer.GuildID))
	if err != nil {
		return GoalState{}, nil, err
	}
	defer unlock()

	goal, _, err := s.loadOrCreateGoal(ctx, claimer.GuildID, date)
	if err != nil {
		return GoalState{}, nil, err
	}

	_, justCompleted := goal.Contribute(claimer.UserID, now)
	if justCompleted {
		s.logger.Info("daily goal completed",
			logger.GuildID(claimer.GuildID),
			logger.String("date", date.String()),
			logger.Int("target", goal.Target))
	}

	var (
		claimerBonus *AwardOutcome
		payErr       error
	)
	if s.config.Goal.BonusXP > 0 {
		for _, userID := range goal.PendingBonus() {
			out, err := s.awardGoalBonus(ctx, shared.MemberKey{GuildID: claimer.GuildID, UserID: userID}, date, now)
			if err != nil {
				payErr = err
				break
			}
			goal.MarkBonusAwarded(userID)
			if userID == claimer.UserID {
				claimerBonus = out
			}
		}
	}

	if err := s.store.SaveDailyGoal(ctx, goal); err != nil {
		return GoalState{}, claimerBonus, err
	}
	return goalState(goal, justCompleted), claimerBonus, payErr
}

func (s *Service) awardGoalBonus(ctx context.Context, key shared.MemberKey, date timeutil.Date, now time.Time) (*AwardOutcome, error) {
	var outcome AwardOutcome
	_, _, err := s.mutate(ctx, key, now, func(p *leveling.UserProgress) (bool, []leveling.XPEvent, error) {
		st := newAwardState(p, leveling.SourceGoal)
		st.baseXP = s.config.Goal.BonusXP

		p.GoalsCompleted++
		s.grant(p, st, s.config.Goal.BonusXP, date.String(), now)
		s.unlockAchievements(p, st, now)

		outcome = s.outcome(p, st)
		return true, st.events, nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// loadOrCreateGoal must be called under the guild goal lock.
func (s *Service) loadOrCreateGoal(ctx context.Context, guildID shared.GuildID, date timeutil.Date) (*leveling.DailyGoal, bool, error) {
	goal, err := s.store.GetDailyGoal(ctx, guildID, date)
	if err == nil {
		return goal, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	members, err := s.store.CountUsers(ctx, guildID)
	if err != nil {
		return nil, false, err
	}
	return leveling.NewDailyGoal(guildID, date, s.config.Goal.Target(members)), true, nil
}

func goalLockKey(guildID shared.GuildID) string {
	return "goal:" + guildID.String()
}

func goalState(goal *leveling.DailyGoal, justCompleted bool) GoalState {
	return GoalState{
		Date:          goal.Date,
		Progress:      goal.Progress,
		Target:        goal.Target,
		Completed:     goal.Completed,
		JustCompleted: justCompleted,
	}
}
