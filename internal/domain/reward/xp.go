// Package reward переводит оценки сессии в опыт (XP).
package reward

import (
	"math"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
)

const (
	// BaseXP - гарантированная награда за любой завершённый урок.
	BaseXP = 50

	// MaxBonusXP - бонус при трёх оценках по 100.
	MaxBonusXP = 100

	// MinLessonXP и MaxLessonXP - границы награды за урок.
	MinLessonXP = BaseXP
	MaxLessonXP = BaseXP + MaxBonusXP
)

// Bonus возвращает округлённое среднее трёх оценок.
// Оценки зажимаются в [0, 100] до усреднения.
func Bonus(scores performance.ScoreSet) int {
	s := scores.Clamp()
	return int(math.Round(float64(s.Sum()) / 3))
}

// ComputeXP возвращает награду за урок: BaseXP + Bonus.
// Результат всегда в [MinLessonXP, MaxLessonXP].
func ComputeXP(scores performance.ScoreSet) int {
	return BaseXP + Bonus(scores)
}
