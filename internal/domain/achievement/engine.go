package achievement

import (
	"github.com/guildkit/guild-leveling/internal/domain/leveling"
)

// Metric оценивает близость пользователя к достижению в [0, 1].
type Metric func(a Achievement, p *leveling.UserProgress) float64

// Engine проверяет каталог против снимка прогресса.
type Engine struct {
	catalog *Catalog
	curve   leveling.LevelCurve
	metrics map[Category]Metric
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithMetric задаёт метрику близости для категории.
func WithMetric(category Category, metric Metric) EngineOption {
	return func(e *Engine) {
		if metric != nil {
			e.metrics[category] = metric
		}
	}
}

// NewEngine создаёт движок над каталогом.
func NewEngine(catalog *Catalog, curve leveling.LevelCurve, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: catalog,
		curve:   curve,
		metrics: make(map[Category]Metric),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog возвращает каталог движка.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Evaluate - один проход: заблокированные достижения, критерии которых выполнены.
// Чистая функция, снимок не меняется.
func (e *Engine) Evaluate(p *leveling.UserProgress) []Achievement {
	var satisfied []Achievement
	for _, a := range e.catalog.items {
		if p.HasAchievement(a.ID) {
			continue
		}
		if a.Criteria.Satisfied(p) {
			satisfied = append(satisfied, a)
		}
	}
	return satisfied
}

// AwardResult - итог проверки достижений.
type AwardResult struct {
	Unlocked      []Achievement
	RewardXP      int64
	LevelsCrossed []int
}

// CheckAndAward разблокирует выполненные достижения на рабочей копии p
// и повторяет проверку, пока очередной проход что-то добавляет.
// Число проходов ограничено размером каталога.
func (e *Engine) CheckAndAward(p *leveling.UserProgress) AwardResult {
	var result AwardResult
	startLevel := p.Level

	for pass := 0; pass <= e.catalog.Len(); pass++ {
		batch := e.Evaluate(p)
		if len(batch) == 0 {
			break
		}
		var batchXP int64
		for _, a := range batch {
			p.UnlockAchievement(a.ID)
			batchXP += a.RewardXP
			result.Unlocked = append(result.Unlocked, a)
		}
		result.RewardXP += batchXP
		p.AddXP(batchXP, e.curve)
	}

	result.LevelsCrossed = leveling.LevelsCrossed(startLevel, p.Level)
	return result
}

// Partition делит каталог на полученные и оставшиеся, в порядке каталога.
func (e *Engine) Partition(p *leveling.UserProgress) (unlocked, locked []Achievement) {
	for _, a := range e.catalog.items {
		if p.HasAchievement(a.ID) {
			unlocked = append(unlocked, a)
		} else {
			locked = append(locked, a)
		}
	}
	return unlocked, locked
}

// Next возвращает ближайшее к выполнению неполученное достижение.
// При равной близости выигрывает более раннее в каталоге.
func (e *Engine) Next(p *leveling.UserProgress) (Achievement, float64, bool) {
	var (
		best     Achievement
		bestFrac = -1.0
	)
	for _, a := range e.catalog.items {
		if p.HasAchievement(a.ID) {
			continue
		}
		frac := e.fraction(a, p)
		if frac > bestFrac {
			best, bestFrac = a, frac
		}
	}
	if bestFrac < 0 {
		return Achievement{}, 0, false
	}
	return best, bestFrac, true
}

func (e *Engine) fraction(a Achievement, p *leveling.UserProgress) float64 {
	if metric, ok := e.metrics[a.Category]; ok {
		return clamp01(metric(a, p))
	}
	return a.Criteria.Fraction(p)
}
