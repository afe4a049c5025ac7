package leveling

import (
	"fmt"
	"math"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOOST POLICY
// ══════════════════════════════════════════════════════════════════════════════

// BoostPolicy умножает начисления бустерам сервера.
// Состояние буста записывает только синхронизация бустеров.
type BoostPolicy struct {
	// MultiplierPercent - множитель в процентах (150 = x1.5). Результат округляется вниз.
	MultiplierPercent int64
}

// HasXPBoost истинно, если буст активен и ещё не истёк.
func (BoostPolicy) HasXPBoost(p *UserProgress, now time.Time) bool {
	return p.BoostActive && now.Before(p.BoostExpiresAt)
}

// Apply применяет множитель к базовому опыту.
func (b BoostPolicy) Apply(baseXP int64, boosted bool) int64 {
	if !boosted || b.MultiplierPercent <= 0 {
		return baseXP
	}
	return baseXP * b.MultiplierPercent / 100
}

// ══════════════════════════════════════════════════════════════════════════════
// COOLDOWN GUARD
// ══════════════════════════════════════════════════════════════════════════════

// CooldownGuard отсекает опыт за слишком частые сообщения.
// Использует LastMessageAt самой записи, поэтому проверка выполняется
// в той же сериализованной секции, что и запись опыта.
type CooldownGuard struct {
	Window time.Duration
}

// Ready сообщает, может ли сообщение в момент now принести опыт.
func (g CooldownGuard) Ready(p *UserProgress, now time.Time) bool {
	if p.LastMessageAt.IsZero() || g.Window <= 0 {
		return true
	}
	return now.Sub(p.LastMessageAt) >= g.Window
}

// Check возвращает ErrCooldownActive, если сообщение пришло внутри окна.
func (g CooldownGuard) Check(p *UserProgress, now time.Time) error {
	if g.Ready(p, now) {
		return nil
	}
	return shared.WrapError("leveling", "AwardMessageXP", shared.ErrCooldownActive,
		fmt.Sprintf("%s left", g.Remaining(p, now)), nil)
}

// Remaining возвращает время до окончания кулдауна.
func (g CooldownGuard) Remaining(p *UserProgress, now time.Time) time.Duration {
	if g.Ready(p, now) {
		return 0
	}
	return g.Window - now.Sub(p.LastMessageAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE REWARD
// ══════════════════════════════════════════════════════════════════════════════

// Roller возвращает равномерное случайное число в [0, n).
type Roller func(n int64) int64

// MessageReward - диапазон опыта за сообщение.
type MessageReward struct {
	Min int64
	Max int64
}

// Roll выбирает базовый опыт за сообщение.
func (m MessageReward) Roll(roll Roller) int64 {
	if m.Max <= m.Min || roll == nil {
		return m.Min
	}
	return m.Min + roll(m.Max-m.Min+1)
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY REWARD & STREAK
// ══════════════════════════════════════════════════════════════════════════════

// DailyRewardPolicy - награда за ежедневный вход и бонус за серию.
type DailyRewardPolicy struct {
	Base       int64
	StreakStep int64
	StreakCap  int64
}

// DefaultDailyRewardPolicy возвращает 25 + min((streak-1)*5, 25).
func DefaultDailyRewardPolicy() DailyRewardPolicy {
	return DailyRewardPolicy{Base: 25, StreakStep: 5, StreakCap: 25}
}

// StreakBonus не убывает по длине серии и ограничен StreakCap.
func (d DailyRewardPolicy) StreakBonus(streak int) int64 {
	if streak <= 1 {
		return 0
	}
	bonus := int64(streak-1) * d.StreakStep
	if d.StreakCap >= 0 && bonus > d.StreakCap {
		return d.StreakCap
	}
	return bonus
}

// DailyClaim - результат перехода серии при получении награды.
type DailyClaim struct {
	Date        timeutil.Date `json:"date"`
	Streak      int           `json:"streak"`
	StreakReset bool          `json:"streak_reset"`
	BaseReward  int64         `json:"base_reward"`
	StreakBonus int64         `json:"streak_bonus"`
}

// Reward возвращает опыт до применения буста.
func (c DailyClaim) Reward() int64 {
	return c.BaseReward + c.StreakBonus
}

// Claim выполняет переход серии для today и помечает награду полученной.
// Повторный вызов в ту же дату возвращает ErrAlreadyClaimedToday.
func (d DailyRewardPolicy) Claim(p *UserProgress, today timeutil.Date) (DailyClaim, error) {
	if !p.LastClaimDate.IsZero() && !p.LastClaimDate.Before(today) {
		return DailyClaim{}, shared.WrapError("leveling", "ClaimDaily", shared.ErrAlreadyClaimedToday,
			fmt.Sprintf("already claimed on %s", p.LastClaimDate), nil)
	}

	streak := 1
	reset := p.StreakCount > 0
	if !p.LastClaimDate.IsZero() && p.LastClaimDate == today.AddDays(-1) {
		streak = p.StreakCount + 1
		reset = false
	}

	p.StreakCount = streak
	p.LastClaimDate = today
	p.DailyClaims++

	return DailyClaim{
		Date:        today,
		Streak:      streak,
		StreakReset: reset,
		BaseReward:  d.Base,
		StreakBonus: d.StreakBonus(streak),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER GOAL POLICY
// ══════════════════════════════════════════════════════════════════════════════

// GoalPolicy вычисляет цель сервера на день.
type GoalPolicy struct {
	// MemberRatio - доля активных участников, которые должны забрать награду.
	MemberRatio float64
	// Cap - верхняя граница цели (0 = без ограничения).
	Cap int
	// BonusXP - бонус каждому участнику после выполнения цели.
	BonusXP int64
}

// DefaultGoalPolicy возвращает min(15, max(1, members)) с бонусом 15.
func DefaultGoalPolicy() GoalPolicy {
	return GoalPolicy{MemberRatio: 1.0, Cap: 15, BonusXP: 15}
}

// Target вычисляет цель по числу активных участников.
func (g GoalPolicy) Target(activeMembers int) int {
	ratio := g.MemberRatio
	if ratio <= 0 {
		ratio = 1
	}
	target := int(math.Ceil(float64(activeMembers) * ratio))
	if g.Cap > 0 && target > g.Cap {
		target = g.Cap
	}
	if target < 1 {
		target = 1
	}
	return target
}
