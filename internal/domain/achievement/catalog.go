// Package achievement содержит каталог достижений и движок их проверки.
//
// Каталог неизменяем после загрузки: определения отделены от состояния
// пользователя (множества разблокированных id в UserProgress).
package achievement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORIES & CRITERIA
// ══════════════════════════════════════════════════════════════════════════════

// Category группирует достижения и выбирает метрику близости.
type Category string

const (
	CategoryLevel    Category = "level"
	CategoryMessages Category = "messages"
	CategoryCommands Category = "commands"
	CategoryStreak   Category = "streak"
	CategoryXP       Category = "xp"
	CategorySpecial  Category = "special"
	CategoryRank     Category = "rank"
	CategoryContent  Category = "content"
	CategoryGoals    Category = "goals"
	CategoryMeta     Category = "meta"
)

// Kind - вариант критерия.
type Kind string

const (
	KindLevelAtLeast           Kind = "level_at_least"
	KindMessageCountAtLeast    Kind = "message_count_at_least"
	KindCommandCountAtLeast    Kind = "command_count_at_least"
	KindStreakAtLeast          Kind = "streak_at_least"
	KindTotalXPAtLeast         Kind = "total_xp_at_least"
	KindDailyClaimsAtLeast     Kind = "daily_claims_at_least"
	KindBoostDaysAtLeast       Kind = "boost_days_at_least"
	KindImagesAtLeast          Kind = "images_at_least"
	KindLongMessagesAtLeast    Kind = "long_messages_at_least"
	KindLinksAtLeast           Kind = "links_at_least"
	KindGoalsCompletedAtLeast  Kind = "goals_completed_at_least"
	KindAchievementsAtLeast    Kind = "achievements_at_least"
	KindRankImprovementAtLeast Kind = "rank_improvement_at_least"
	KindBestRankAtMost         Kind = "best_rank_at_most"
	KindAllOf                  Kind = "all_of"
)

// counters - метрики для критериев вида "*_at_least".
var counters = map[Kind]func(p *leveling.UserProgress) int64{
	KindLevelAtLeast:           func(p *leveling.UserProgress) int64 { return int64(p.Level) },
	KindMessageCountAtLeast:    func(p *leveling.UserProgress) int64 { return p.MessageCount },
	KindCommandCountAtLeast:    func(p *leveling.UserProgress) int64 { return p.CommandCount },
	KindStreakAtLeast:          func(p *leveling.UserProgress) int64 { return int64(p.StreakCount) },
	KindTotalXPAtLeast:         func(p *leveling.UserProgress) int64 { return p.TotalXP },
	KindDailyClaimsAtLeast:     func(p *leveling.UserProgress) int64 { return p.DailyClaims },
	KindBoostDaysAtLeast:       func(p *leveling.UserProgress) int64 { return int64(p.BoostDays) },
	KindImagesAtLeast:          func(p *leveling.UserProgress) int64 { return p.Content.ImagesShared },
	KindLongMessagesAtLeast:    func(p *leveling.UserProgress) int64 { return p.Content.LongMessages },
	KindLinksAtLeast:           func(p *leveling.UserProgress) int64 { return p.Content.LinksShared },
	KindGoalsCompletedAtLeast:  func(p *leveling.UserProgress) int64 { return p.GoalsCompleted },
	KindAchievementsAtLeast:    func(p *leveling.UserProgress) int64 { return int64(len(p.Achievements)) },
	KindRankImprovementAtLeast: func(p *leveling.UserProgress) int64 { return int64(p.RankImprovement) },
}

// Criteria - чистый предикат над снимком прогресса.
type Criteria struct {
	Kind  Kind       `yaml:"kind" json:"kind"`
	Value int64      `yaml:"value,omitempty" json:"value,omitempty"`
	AllOf []Criteria `yaml:"all_of,omitempty" json:"all_of,omitempty"`
}

// Satisfied проверяет критерий. Без I/O и без мутаций.
func (c Criteria) Satisfied(p *leveling.UserProgress) bool {
	switch c.Kind {
	case KindAllOf:
		for _, sub := range c.AllOf {
			if !sub.Satisfied(p) {
				return false
			}
		}
		return len(c.AllOf) > 0
	case KindBestRankAtMost:
		return p.BestRank > 0 && int64(p.BestRank) <= c.Value
	default:
		counter, ok := counters[c.Kind]
		return ok && counter(p) >= c.Value
	}
}

// Fraction возвращает близость к выполнению в [0, 1].
func (c Criteria) Fraction(p *leveling.UserProgress) float64 {
	if c.Satisfied(p) {
		return 1
	}
	switch c.Kind {
	case KindAllOf:
		minFraction := 1.0
		for _, sub := range c.AllOf {
			minFraction = min(minFraction, sub.Fraction(p))
		}
		return minFraction
	case KindBestRankAtMost:
		if p.BestRank <= 0 {
			return 0
		}
		return clamp01(float64(c.Value) / float64(p.BestRank))
	default:
		counter, ok := counters[c.Kind]
		if !ok || c.Value <= 0 {
			return 0
		}
		return clamp01(float64(counter(p)) / float64(c.Value))
	}
}

func (c Criteria) validate(path string) error {
	switch c.Kind {
	case KindAllOf:
		if len(c.AllOf) == 0 {
			return fmt.Errorf("%s: all_of requires at least one criterion", path)
		}
		var errs []error
		for i, sub := range c.AllOf {
			if err := sub.validate(fmt.Sprintf("%s.all_of[%d]", path, i)); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case KindBestRankAtMost:
		if c.Value < 1 {
			return fmt.Errorf("%s: best_rank_at_most requires value >= 1", path)
		}
		return nil
	case "":
		return fmt.Errorf("%s: criteria kind is required", path)
	default:
		if _, ok := counters[c.Kind]; !ok {
			return fmt.Errorf("%s: unknown criteria kind %q", path, c.Kind)
		}
		if c.Value < 1 {
			return fmt.Errorf("%s: %s requires value >= 1", path, c.Kind)
		}
		return nil
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT & CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Achievement - определение достижения.
type Achievement struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Emoji       string   `yaml:"emoji,omitempty" json:"emoji,omitempty"`
	Category    Category `yaml:"category" json:"category"`
	Criteria    Criteria `yaml:"criteria" json:"criteria"`
	RewardXP    int64    `yaml:"reward_xp" json:"reward_xp"`
}

// Catalog - упорядоченный неизменяемый набор достижений.
type Catalog struct {
	items []Achievement
	index map[string]int
}

// NewCatalog проверяет определения и строит каталог.
// Любая ошибка оборачивается в shared.ErrInvalidAchievementCatalog.
func NewCatalog(defs []Achievement) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, catalogError(errors.New("catalog is empty"))
	}

	c := &Catalog{
		items: make([]Achievement, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}

	var errs []error
	for i, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		path := fmt.Sprintf("achievements[%d]", i)
		if def.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", path))
			continue
		}
		path = fmt.Sprintf("%s(%s)", path, def.ID)
		if _, dup := c.index[def.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate id", path))
			continue
		}
		if def.Category == "" {
			errs = append(errs, fmt.Errorf("%s: category is required", path))
		}
		if def.RewardXP < 0 {
			errs = append(errs, fmt.Errorf("%s: reward_xp cannot be negative", path))
		}
		if err := def.Criteria.validate(path + ".criteria"); err != nil {
			errs = append(errs, err)
		}
		if def.Name == "" {
			def.Name = def.ID
		}

		c.index[def.ID] = len(c.items)
		c.items = append(c.items, def)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, catalogError(err)
	}
	return c, nil
}

func catalogError(err error) error {
	return shared.WrapError("achievement", "LoadCatalog", shared.ErrInvalidAchievementCatalog, "invalid achievement catalog", err)
}

// Len возвращает число достижений.
func (c *Catalog) Len() int {
	return len(c.items)
}

// All возвращает копию каталога в исходном порядке.
func (c *Catalog) All() []Achievement {
	out := make([]Achievement, len(c.items))
	copy(out, c.items)
	return out
}

// Get возвращает достижение по id.
func (c *Catalog) Get(id string) (Achievement, bool) {
	i, ok := c.index[id]
	if !ok {
		return Achievement{}, false
	}
	return c.items[i], true
}
