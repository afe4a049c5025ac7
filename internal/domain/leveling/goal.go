package leveling

import (
	"slices"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// DailyGoal - общая цель гильдии на календарную дату.
// Прогресс - число участников, забравших ежедневную награду в эту дату.
// Прогресс только растёт; после окончания даты цель не меняется.
type DailyGoal struct {
	GuildID     shared.GuildID  `json:"guild_id"`
	Date        timeutil.Date   `json:"date"`
	Target      int             `json:"target"`
	Progress    int             `json:"progress"`
	Claimers    []shared.UserID `json:"claimers"`
	Completed   bool            `json:"completed"`
	CompletedAt time.Time       `json:"completed_at"`

	// BonusAwardedTo - участники, уже получившие бонус за цель.
	BonusAwardedTo []shared.UserID `json:"bonus_awarded_to"`
}

// NewDailyGoal создаёт цель с зафиксированным на дату значением target.
func NewDailyGoal(guildID shared.GuildID, date timeutil.Date, target int) *DailyGoal {
	return &DailyGoal{
		GuildID:        guildID,
		Date:           date,
		Target:         target,
		Claimers:       []shared.UserID{},
		BonusAwardedTo: []shared.UserID{},
	}
}

// Clone возвращает глубокую копию.
func (g *DailyGoal) Clone() *DailyGoal {
	if g == nil {
		return nil
	}
	c := *g
	c.Claimers = slices.Clone(g.Claimers)
	c.BonusAwardedTo = slices.Clone(g.BonusAwardedTo)
	return &c
}

// Contribute засчитывает получение награды пользователем.
// Возвращает false, если пользователь уже внёс вклад в эту дату,
// и completedNow=true, если именно этот вклад выполнил цель.
func (g *DailyGoal) Contribute(userID shared.UserID, now time.Time) (counted, completedNow bool) {
	if slices.Contains(g.Claimers, userID) {
		return false, false
	}
	g.Claimers = append(g.Claimers, userID)
	g.Progress++

	if !g.Completed && g.Progress >= g.Target {
		g.Completed = true
		g.CompletedAt = now
		return true, true
	}
	return true, false
}

// PendingBonus возвращает участников, которым положен, но ещё не выдан бонус.
func (g *DailyGoal) PendingBonus() []shared.UserID {
	if !g.Completed {
		return nil
	}
	var pending []shared.UserID
	for _, id := range g.Claimers {
		if !slices.Contains(g.BonusAwardedTo, id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// MarkBonusAwarded отмечает выдачу бонуса участнику.
func (g *DailyGoal) MarkBonusAwarded(userID shared.UserID) {
	if !slices.Contains(g.BonusAwardedTo, userID) {
		g.BonusAwardedTo = append(g.BonusAwardedTo, userID)
	}
}

// Fraction возвращает долю выполнения в [0, 1].
func (g *DailyGoal) Fraction() float64 {
	if g.Target <= 0 {
		return 0
	}
	f := float64(g.Progress) / float64(g.Target)
	if f > 1 {
		return 1
	}
	return f
}
