// Package leveling содержит доменную модель прогресса участника гильдии:
// опыт (XP), уровни, серии ежедневных наград, буст и цели сервера.
//
// Все правила здесь чистые: никакого I/O, только вычисления над снимком состояния.
// Сериализация изменений по ключу (guild, user) обеспечивается прикладным слоем.
package leveling

import (
	"slices"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LongMessageLength - сообщение длиннее этого порога считается "длинным".
const LongMessageLength = 200

// ContentStats - счётчики типов контента в сообщениях.
type ContentStats struct {
	ImagesShared int64 `json:"images_shared"`
	LongMessages int64 `json:"long_messages"`
	LinksShared  int64 `json:"links_shared"`
}

// MessageContent описывает сообщение, за которое начисляется опыт.
type MessageContent struct {
	HasImage bool `json:"has_image"`
	Length   int  `json:"length"`
	HasLink  bool `json:"has_link"`
}

// UserProgress - прогресс одного пользователя в одной гильдии.
// Уровень всегда выводится из TotalXP через LevelCurve.
type UserProgress struct {
	GuildID shared.GuildID `json:"guild_id"`
	UserID  shared.UserID  `json:"user_id"`

	TotalXP int64 `json:"total_xp"`
	Level   int   `json:"level"`

	MessageCount  int64        `json:"message_count"`
	CommandCount  int64        `json:"command_count"`
	Content       ContentStats `json:"content"`
	LastMessageAt time.Time    `json:"last_message_at"`

	StreakCount    int           `json:"streak_count"`
	LastClaimDate  timeutil.Date `json:"last_claim_date"`
	DailyClaims    int64         `json:"daily_claims"`
	GoalsCompleted int64         `json:"goals_completed"`

	BoostActive    bool      `json:"boost_active"`
	BoostExpiresAt time.Time `json:"boost_expires_at"`
	BoostDays      int       `json:"boost_days"`
	FirstBoostAt   time.Time `json:"first_boost_at"`

	// Achievements - разблокированные достижения в порядке получения. Только растёт.
	Achievements []string `json:"achievements"`

	// Ранги: 0 означает "ещё не ранжирован".
	CurrentRank     int `json:"current_rank"`
	PreviousRank    int `json:"previous_rank"`
	BestRank        int `json:"best_rank"`
	RankImprovement int `json:"rank_improvement"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version растёт на каждой фиксации. 0 - запись ещё не сохранялась.
	Version int64 `json:"version"`
}

// NewUserProgress создаёт пустой прогресс для первой активности пользователя.
func NewUserProgress(key shared.MemberKey, now time.Time) *UserProgress {
	return &UserProgress{
		GuildID:      key.GuildID,
		UserID:       key.UserID,
		Achievements: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Key возвращает ключ записи.
func (p *UserProgress) Key() shared.MemberKey {
	return shared.MemberKey{GuildID: p.GuildID, UserID: p.UserID}
}

// Clone возвращает глубокую копию.
func (p *UserProgress) Clone() *UserProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.Achievements = slices.Clone(p.Achievements)
	if c.Achievements == nil {
		c.Achievements = []string{}
	}
	return &c
}

// HasAchievement проверяет, разблокировано ли достижение.
func (p *UserProgress) HasAchievement(id string) bool {
	return slices.Contains(p.Achievements, id)
}

// UnlockAchievement добавляет достижение. Возвращает false, если оно уже было.
func (p *UserProgress) UnlockAchievement(id string) bool {
	if p.HasAchievement(id) {
		return false
	}
	p.Achievements = append(p.Achievements, id)
	return true
}

// AddXP прибавляет опыт и пересчитывает уровень полным поиском.
// Отрицательные суммы (административная коррекция) не опускают опыт ниже нуля.
// Возвращает список пересечённых уровней (пустой, если уровень не вырос).
func (p *UserProgress) AddXP(amount int64, curve LevelCurve) []int {
	oldLevel := p.Level
	p.TotalXP += amount
	if p.TotalXP < 0 {
		p.TotalXP = 0
	}
	p.Level = curve.LevelFor(p.TotalXP)
	return LevelsCrossed(oldLevel, p.Level)
}

// SyncLevel пересчитывает кэшированный уровень из TotalXP.
func (p *UserProgress) SyncLevel(curve LevelCurve) {
	p.Level = curve.LevelFor(p.TotalXP)
}

// RecordMessage обновляет счётчики сообщений и контента.
func (p *UserProgress) RecordMessage(content MessageContent, now time.Time) {
	p.MessageCount++
	p.LastMessageAt = now
	if content.HasImage {
		p.Content.ImagesShared++
	}
	if content.Length > LongMessageLength {
		p.Content.LongMessages++
	}
	if content.HasLink {
		p.Content.LinksShared++
	}
}

// RecordRank фиксирует новую позицию в лидерборде.
func (p *UserProgress) RecordRank(rank int) {
	if rank <= 0 {
		return
	}
	if p.CurrentRank > 0 {
		p.PreviousRank = p.CurrentRank
		if improvement := p.PreviousRank - rank; improvement > p.RankImprovement {
			p.RankImprovement = improvement
		}
	}
	p.CurrentRank = rank
	if p.BestRank == 0 || rank < p.BestRank {
		p.BestRank = rank
	}
}
