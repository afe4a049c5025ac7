package leveling

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// XPSource - источник начисления опыта.
type XPSource string

const (
	SourceMessage     XPSource = "message"
	SourceDaily       XPSource = "daily"
	SourceAchievement XPSource = "achievement"
	SourceAdmin       XPSource = "admin"
	SourceGoal        XPSource = "goal"
)

// IsValid проверяет источник.
func (s XPSource) IsValid() bool {
	switch s {
	case SourceMessage, SourceDaily, SourceAchievement, SourceAdmin, SourceGoal:
		return true
	}
	return false
}

// XPEvent - неизменяемая запись о начислении опыта.
type XPEvent struct {
	ID        uuid.UUID      `json:"id"`
	GuildID   shared.GuildID `json:"guild_id"`
	UserID    shared.UserID  `json:"user_id"`
	Amount    int64          `json:"amount"`
	Source    XPSource       `json:"source"`
	Reference string         `json:"reference,omitempty"` // id достижения и т.п.
	Timestamp time.Time      `json:"timestamp"`
}

// NewXPEvent создаёт событие с новым идентификатором.
func NewXPEvent(key shared.MemberKey, amount int64, source XPSource, ref string, at time.Time) XPEvent {
	return XPEvent{
		ID:        uuid.New(),
		GuildID:   key.GuildID,
		UserID:    key.UserID,
		Amount:    amount,
		Source:    source,
		Reference: ref,
		Timestamp: at,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// XP STATS
// ══════════════════════════════════════════════════════════════════════════════

// SourceStats - агрегат по одному источнику.
type SourceStats struct {
	XP    int64 `json:"xp"`
	Count int   `json:"count"`
}

// XPStats - агрегат событий за окно времени. Считается при чтении.
type XPStats struct {
	GuildID  shared.GuildID           `json:"guild_id"`
	UserID   shared.UserID            `json:"user_id"`
	Since    time.Time                `json:"since"`
	Until    time.Time                `json:"until"`
	TotalXP  int64                    `json:"total_xp"`
	Events   int                      `json:"events"`
	BySource map[XPSource]SourceStats `json:"by_source"`
}

// AggregateXPStats группирует события из [since, until] по источнику.
func AggregateXPStats(key shared.MemberKey, events []XPEvent, since, until time.Time) XPStats {
	stats := XPStats{
		GuildID:  key.GuildID,
		UserID:   key.UserID,
		Since:    since,
		Until:    until,
		BySource: make(map[XPSource]SourceStats),
	}
	for _, e := range events {
		if e.Timestamp.Before(since) || e.Timestamp.After(until) {
			continue
		}
		s := stats.BySource[e.Source]
		s.XP += e.Amount
		s.Count++
		stats.BySource[e.Source] = s
		stats.TotalXP += e.Amount
		stats.Events++
	}
	return stats
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ORDER
// ══════════════════════════════════════════════════════════════════════════════

// CompareRank задаёт порядок лидерборда: больше опыта выше, при равенстве меньший user id выше.
func CompareRank(a, b *UserProgress) int {
	if c := cmp.Compare(b.TotalXP, a.TotalXP); c != 0 {
		return c
	}
	return cmp.Compare(a.UserID, b.UserID)
}

// SortForLeaderboard сортирует записи в порядке лидерборда.
func SortForLeaderboard(list []*UserProgress) {
	slices.SortFunc(list, CompareRank)
}
