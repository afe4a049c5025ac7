// Package progression is the leveling service facade consumed by the platform adapter.
// It turns activity (messages, commands, daily claims, booster snapshots) into XP,
// levels, streaks, goal progress and achievement unlocks.
//
// Every mutation of a user record runs inside a per (guild, user) serialized section:
// load, compute on a working copy, commit record and events together. Reads of the
// leaderboard and stats are not linearized against in-flight writes (eventual reads).
package progression

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/achievement"
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/logger"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the tunable reward constants.
type Config struct {
	Curve         leveling.LevelCurve
	MessageReward leveling.MessageReward
	Cooldown      time.Duration
	Boost         leveling.BoostPolicy
	Daily         leveling.DailyRewardPolicy
	Goal          leveling.GoalPolicy

	// HistoryCap limits how many recent events GetXPHistory returns.
	HistoryCap int

	// DefaultStatsWindow is used when GetXPStats gets a non-positive window.
	DefaultStatsWindow time.Duration

	// MaxPageSize caps leaderboard page size.
	MaxPageSize int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Curve:              leveling.DefaultLevelCurve(),
		MessageReward:      leveling.MessageReward{Min: 15, Max: 25},
		Cooldown:           60 * time.Second,
		Boost:              leveling.BoostPolicy{MultiplierPercent: 150},
		Daily:              leveling.DefaultDailyRewardPolicy(),
		Goal:               leveling.DefaultGoalPolicy(),
		HistoryCap:         120,
		DefaultStatsWindow: 7 * 24 * time.Hour,
		MaxPageSize:        100,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the leveling facade.
type Service struct {
	store    leveling.Store
	engine   *achievement.Engine
	calendar timeutil.Calendar
	config   Config
	cooldown leveling.CooldownGuard
	roll     leveling.Roller
	locks    *keyedLocker
	logger   *logger.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithRoller replaces the random source used for message XP.
func WithRoller(roll leveling.Roller) Option {
	return func(s *Service) {
		if roll != nil {
			s.roll = roll
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCalendar sets the location used for calendar dates.
func WithCalendar(cal timeutil.Calendar) Option {
	return func(s *Service) {
		s.calendar = cal
	}
}

// NewService creates the facade.
func NewService(store leveling.Store, engine *achievement.Engine, config Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   engine,
		calendar: timeutil.NewCalendar(time.UTC),
		config:   config,
		cooldown: leveling.CooldownGuard{Window: config.Cooldown},
		roll:     rand.Int64N,
		locks:    newKeyedLocker(),
		logger:   logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("leveling"))
	return s
}

// Ping checks the storage backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOMES
// ══════════════════════════════════════════════════════════════════════════════

// AwardOutcome is the structured result of an XP-affecting operation.
type AwardOutcome struct {
	GuildID shared.GuildID    `json:"guild_id"`
	UserID  shared.UserID     `json:"user_id"`
	Source  leveling.XPSource `json:"source"`

	// BaseXP is the amount before the boost multiplier.
	BaseXP    int64 `json:"base_xp"`
	XPAwarded int64 `json:"xp_awarded"`
	Boosted   bool  `json:"boosted"`

	TotalXP       int64                  `json:"total_xp"`
	OldLevel      int                    `json:"old_level"`
	NewLevel      int                    `json:"new_level"`
	LevelsCrossed []int                  `json:"levels_crossed"`
	LevelProgress leveling.LevelProgress `json:"level_progress"`

	Achievements  []achievement.Achievement `json:"achievements"`
	AchievementXP int64                     `json:"achievement_xp"`
}

// LeveledUp reports whether at least one level was crossed.
func (o *AwardOutcome) LeveledUp() bool {
	return len(o.LevelsCrossed) > 0
}

// GoalState is a read of the guild's goal for a date.
type GoalState struct {
	Date          timeutil.Date `json:"date"`
	Progress      int           `json:"progress"`
	Target        int           `json:"target"`
	Completed     bool          `json:"completed"`
	JustCompleted bool          `json:"just_completed"`
}

// ClaimOutcome is the result of a successful daily claim.
type ClaimOutcome struct {
	AwardOutcome

	Streak      int   `json:"streak"`
	StreakReset bool  `json:"streak_reset"`
	BaseReward  int64 `json:"base_reward"`
	StreakBonus int64 `json:"streak_bonus"`

	Goal GoalState `json:"goal"`

	// GoalBonus is set when this claim earned the claimer the goal bonus.
	GoalBonus *AwardOutcome `json:"goal_bonus,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// award accumulator
// ─────────────────────────────────────────────────────────────────────────────

// awardState collects XP changes made to one working copy.
type awardState struct {
	oldLevel      int
	source        leveling.XPSource
	baseXP        int64
	xpAwarded     int64
	boosted       bool
	events        []leveling.XPEvent
	achievements  []achievement.Achievement
	achievementXP int64
}

func newAwardState(p *leveling.UserProgress, source leveling.XPSource) *awardState {
	return &awardState{oldLevel: p.Level, source: source}
}

// grant adds amount to the working copy and records the event.
func (s *Service) grant(p *leveling.UserProgress, st *awardState, amount int64, ref string, now time.Time) {
	if amount == 0 {
		return
	}
	p.AddXP(amount, s.config.Curve)
	st.xpAwarded += amount
	st.events = append(st.events, leveling.NewXPEvent(p.Key(), amount, st.source, ref, now))
}

// unlockAchievements runs the engine to its fixed point on the working copy.
func (s *Service) unlockAchievements(p *leveling.UserProgress, st *awardState, now time.Time) {
	result := s.engine.CheckAndAward(p)
	for _, a := range result.Unlocked {
		st.achievements = append(st.achievements, a)
		if a.RewardXP > 0 {
			st.events = append(st.events, leveling.NewXPEvent(p.Key(), a.RewardXP, leveling.SourceAchievement, a.ID, now))
		}
	}
	st.achievementXP += result.RewardXP
}

func (s *Service) outcome(p *leveling.UserProgress, st *awardState) AwardOutcome {
	return AwardOutcome{
		GuildID:       p.GuildID,
		UserID:        p.UserID,
		Source:        st.source,
		BaseXP:        st.baseXP,
		XPAwarded:     st.xpAwarded,
		Boosted:       st.boosted,
		TotalXP:       p.TotalXP,
		OldLevel:      st.oldLevel,
		NewLevel:      p.Level,
		LevelsCrossed: leveling.LevelsCrossed(st.oldLevel, p.Level),
		LevelProgress: s.config.Curve.Progress(p.TotalXP),
		Achievements:  st.achievements,
		AchievementXP: st.achievementXP,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERIALIZED MUTATION
// ══════════════════════════════════════════════════════════════════════════════

// mutation computes on a working copy. It returns the events to append and
// whether the copy must be committed at all.
type mutation func(p *leveling.UserProgress) (commit bool, events []leveling.XPEvent, err error)

// maxCommitAttempts bounds re-runs of a mutation whose commit lost a version check.
const maxCommitAttempts = 5

// mutate runs fn inside the (guild, user) serialized section and commits
// the record together with its events. Nothing is written when fn declines.
//
// The section only excludes writers in this process. Another process sharing
// the store (cmd/worker) is excluded by the record version: a stale commit is
// rejected and fn runs again on a fresh read, so fn must not keep state
// between runs.
func (s *Service) mutate(ctx context.Context, key shared.MemberKey, now time.Time, fn mutation) (*leveling.UserProgress, bool, error) {
	unlock, err := s.locks.Lock(ctx, "user:"+key.String())
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := s.load(ctx, key, now)
		if err != nil {
			return nil, false, err
		}

		work := current.Clone()
		commit, events, err := fn(work)
		if err != nil || !commit {
			return current, false, err
		}

		work.UpdatedAt = now
		err = s.store.CommitProgress(ctx, work, events)
		if err == nil {
			return work, true, nil
		}
		if shared.IsConflict(err) && attempt < maxCommitAttempts {
			s.logger.Debug("user progress changed concurrently, retrying",
				logger.GuildID(key.GuildID), logger.UserID(key.UserID), logger.Int("attempt", attempt))
			continue
		}
		s.logger.Error("failed to commit progress",
			logger.GuildID(key.GuildID), logger.UserID(key.UserID), logger.Err(err))
		return nil, false, err
	}
}

// load returns the stored record or a zeroed one for first activity.
func (s *Service) load(ctx context.Context, key shared.MemberKey, now time.Time) (*leveling.UserProgress, error) {
	p, err := s.store.GetUserData(ctx, key)
	if errors.Is(err, shared.ErrNotFound) {
		return leveling.NewUserProgress(key, now), nil
	}
	if err != nil {
		return nil, err
	}
	p.SyncLevel(s.config.Curve)
	return p, nil
}
