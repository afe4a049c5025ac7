package leveling

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE
// ══════════════════════════════════════════════════════════════════════════════

// maxLevel ограничивает поиск, чтобы Threshold не переполнял int64.
const maxLevel = 1 << 30

// LevelCurve - квадратичная кривая порогов: threshold(L) = A*L² + B*L.
type LevelCurve struct {
	A int64
	B int64
}

// DefaultLevelCurve возвращает кривую 5L² + 50L.
func DefaultLevelCurve() LevelCurve {
	return LevelCurve{A: 5, B: 50}
}

// Validate проверяет, что кривая строго возрастает.
func (c LevelCurve) Validate() error {
	if c.A < 0 || c.B < 0 || c.A+c.B == 0 {
		return fmt.Errorf("level curve must be strictly increasing, got A=%d B=%d", c.A, c.B)
	}
	return nil
}

// Threshold возвращает суммарный опыт, необходимый для уровня level.
func (c LevelCurve) Threshold(level int) int64 {
	if level <= 0 {
		return 0
	}
	l := int64(level)
	return c.A*l*l + c.B*l
}

// LevelFor возвращает наибольший L, для которого Threshold(L) <= xp.
// Поиск не предполагает малого шага: сначала удвоение, затем бинарный поиск.
func (c LevelCurve) LevelFor(xp int64) int {
	if xp <= 0 {
		return 0
	}

	lo, hi := 0, 1
	for c.Threshold(hi) <= xp {
		lo = hi
		if hi >= maxLevel {
			return maxLevel
		}
		hi *= 2
	}

	// Инвариант: Threshold(lo) <= xp < Threshold(hi).
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if c.Threshold(mid) <= xp {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// LevelProgress описывает положение внутри текущего уровня.
type LevelProgress struct {
	Level     int   `json:"level"`
	XPInLevel int64 `json:"xp_in_level"`
	LevelSpan int64 `json:"level_span"`
	XPToNext  int64 `json:"xp_to_next"`
}

// Progress вычисляет прогресс внутри уровня для суммарного опыта xp.
func (c LevelCurve) Progress(xp int64) LevelProgress {
	level := c.LevelFor(xp)
	floor := c.Threshold(level)
	next := c.Threshold(level + 1)
	return LevelProgress{
		Level:     level,
		XPInLevel: xp - floor,
		LevelSpan: next - floor,
		XPToNext:  next - xp,
	}
}

// LevelsCrossed перечисляет все уровни, достигнутые при переходе from -> to.
func LevelsCrossed(from, to int) []int {
	if to <= from {
		return nil
	}
	levels := make([]int, 0, to-from)
	for l := from + 1; l <= to; l++ {
		levels = append(levels, l)
	}
	return levels
}
