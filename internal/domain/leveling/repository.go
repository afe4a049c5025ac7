package leveling

import (
	"context"
	"time"

	"github.com/guildkit/guild-leveling/internal/domain/shared"
	"github.com/guildkit/guild-leveling/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE PORT
// Контракт хранилища. Реализации находятся в infrastructure/persistence.
// Любая ошибка драйвера возвращается как shared.ErrStorageUnavailable.
// ══════════════════════════════════════════════════════════════════════════════

// ErrProgressNotFound - записи пользователя ещё нет. Сервис синтезирует пустую.
var ErrProgressNotFound = shared.NewDomainError("leveling", "GetUserData", shared.ErrNotFound, "user progress not found")

// ErrStaleProgress - запись изменилась после чтения (другой процесс успел
// зафиксировать свою версию). Вызывающая сторона перечитывает и повторяет.
var ErrStaleProgress = shared.NewDomainError("leveling", "CommitProgress", shared.ErrConflict, "user progress changed since it was read")

// Store - хранилище прогресса, событий и целей.
//
// Гарантии: чтение видит последнюю зафиксированную запись по ключу,
// запись одного ключа атомарна. Внутри процесса read-modify-write
// сериализует вызывающая сторона; между процессами CommitProgress
// сравнивает версию записи.
type Store interface {
	// ─────────────────────────────────────────────────────────────────────────
	// User progress
	// ─────────────────────────────────────────────────────────────────────────

	// GetUserData возвращает прогресс пользователя.
	// Возвращает ErrProgressNotFound, если записи нет.
	GetUserData(ctx context.Context, key shared.MemberKey) (*UserProgress, error)

	// SaveUserData полностью заменяет запись без проверки версии
	// (импорт, фикстуры). progress.Version увеличивается.
	SaveUserData(ctx context.Context, progress *UserProgress) error

	// CommitProgress сохраняет запись и добавляет события одним шагом
	// (транзакция или батч, если бэкенд это поддерживает).
	// progress.Version - версия, с которой была прочитана запись (0 - записи не было).
	// Если хранимая версия другая, ничего не пишется и возвращается ErrStaleProgress.
	// При успехе progress.Version увеличивается.
	CommitProgress(ctx context.Context, progress *UserProgress, events []XPEvent) error

	// ListUsers возвращает всех пользователей гильдии.
	ListUsers(ctx context.Context, guildID shared.GuildID) ([]*UserProgress, error)

	// CountUsers возвращает число отслеживаемых пользователей гильдии.
	CountUsers(ctx context.Context, guildID shared.GuildID) (int, error)

	// ListGuilds возвращает все гильдии, по которым есть записи.
	ListGuilds(ctx context.Context) ([]shared.GuildID, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Leaderboard
	// ─────────────────────────────────────────────────────────────────────────

	// GetLeaderboard возвращает страницу в порядке CompareRank и общее число записей.
	GetLeaderboard(ctx context.Context, guildID shared.GuildID, offset, limit int) ([]*UserProgress, int, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Events
	// ─────────────────────────────────────────────────────────────────────────

	// AppendEvent добавляет событие в журнал.
	AppendEvent(ctx context.Context, event XPEvent) error

	// ListEvents возвращает события пользователя не старше since, новые первыми.
	// limit <= 0 означает "без ограничения".
	ListEvents(ctx context.Context, key shared.MemberKey, since time.Time, limit int) ([]XPEvent, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Daily goals
	// ─────────────────────────────────────────────────────────────────────────

	// GetDailyGoal возвращает цель на дату.
	// Возвращает shared.ErrGoalNotFound, если цели ещё нет.
	GetDailyGoal(ctx context.Context, guildID shared.GuildID, date timeutil.Date) (*DailyGoal, error)

	// SaveDailyGoal сохраняет цель.
	SaveDailyGoal(ctx context.Context, goal *DailyGoal) error

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// MembershipSource - внешний источник списка бустеров (адаптер платформы).
type MembershipSource interface {
	// Boosters возвращает текущий снимок бустеров гильдии.
	Boosters(ctx context.Context, guildID shared.GuildID) (BoosterSnapshot, error)
}

// Booster - участник, бустящий сервер.
type Booster struct {
	UserID shared.UserID `json:"user_id"`
	Since  time.Time     `json:"since"`
}

// BoosterSnapshot - состояние бустеров гильдии на момент TakenAt.
type BoosterSnapshot struct {
	GuildID  shared.GuildID `json:"guild_id"`
	TakenAt  time.Time      `json:"taken_at"`
	Boosters []Booster      `json:"boosters"`
}

// ApplyBoost переносит снимок на запись пользователя.
// Результат зависит только от снимка и grace, поэтому повторный прогон идемпотентен.
// Опыт, уровни и достижения не затрагиваются.
func ApplyBoost(p *UserProgress, booster *Booster, snapshot BoosterSnapshot, grace time.Duration, cal timeutil.Calendar) {
	if booster == nil {
		p.BoostActive = false
		p.BoostExpiresAt = time.Time{}
		p.BoostDays = 0
		p.FirstBoostAt = time.Time{}
		return
	}

	p.BoostActive = true
	p.BoostExpiresAt = snapshot.TakenAt.Add(grace)

	since := booster.Since
	if since.IsZero() {
		since = p.FirstBoostAt
	}
	if since.IsZero() {
		since = snapshot.TakenAt
	}
	p.FirstBoostAt = since
	if days := cal.DaysBetween(since, snapshot.TakenAt); days > 0 {
		p.BoostDays = days
	} else {
		p.BoostDays = 0
	}
}
