// Package achievement вычисляет полученные достижения.
//
// Флаг "получено" нигде не хранится: набор достижений каждый раз
// пересчитывается из текущей позиции и полной истории оценок. Поэтому
// достижение невозможно потерять и не нужны миграции при смене правил.
package achievement

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// ID - идентификатор достижения.
type ID string

const (
	FirstMission     ID = "first_mission"
	PerfectAttention ID = "perfect_attention"
	PerfectMemory    ID = "perfect_memory"
	PerfectSpeed     ID = "perfect_speed"
	Perfectionist    ID = "perfectionist"
)

// PhaseComplete returns the id earned at the end of phase n (1-based).
func PhaseComplete(n int) ID {
	return ID(fmt.Sprintf("phase_%d_complete", n))
}

// XPMilestone returns the id earned at the given XP total.
func XPMilestone(xp int) ID {
	return ID(fmt.Sprintf("xp_%d", xp))
}

// Category группирует достижения для отображения.
type Category string

const (
	CategoryLessons Category = "lessons"
	CategoryXP      Category = "xp"
	CategoryPerfect Category = "perfect"
)

// XPMilestones - пороги суммарного XP.
var XPMilestones = []int{100, 500, 1000, 2500, 5000}

// ReferencePhaseEnds - концы фаз эталонного плана (4 фазы по 7 уроков).
var ReferencePhaseEnds = []int{7, 14, 21, 28}

// Input - всё, от чего зависят достижения.
type Input struct {
	CurrentLessonIndex int
	TotalXP            int
	History            []performance.ScoreSet
}

// Definition описывает одно достижение.
type Definition struct {
	ID          ID       `json:"id"`
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Emoji       string   `json:"emoji"`

	earned func(Input) bool
}

// Check evaluates the unlock predicate.
func (d Definition) Check(in Input) bool {
	return d.earned(in)
}

func lessonsAtLeast(n int) func(Input) bool {
	return func(in Input) bool { return in.CurrentLessonIndex >= n }
}

func xpAtLeast(n int) func(Input) bool {
	return func(in Input) bool { return in.TotalXP >= n }
}

func anyRecord(pred func(performance.ScoreSet) bool) func(Input) bool {
	return func(in Input) bool { return lo.ContainsBy(in.History, pred) }
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - упорядоченный неизменяемый набор определений.
type Catalog struct {
	defs  []Definition
	index map[ID]int
}

// NewCatalog строит каталог для учебного плана с заданными концами фаз.
func NewCatalog(phaseEnds []int) *Catalog {
	defs := []Definition{
		{FirstMission, CategoryLessons, "First Mission", "Complete your first lesson", "⭐", lessonsAtLeast(1)},
	}
	for i, end := range phaseEnds {
		n := i + 1
		defs = append(defs, Definition{
			PhaseComplete(n), CategoryLessons,
			fmt.Sprintf("Phase %d Complete", n),
			fmt.Sprintf("Finish every lesson of phase %d", n),
			"🏁", lessonsAtLeast(end),
		})
	}
	for _, xp := range XPMilestones {
		defs = append(defs, Definition{
			XPMilestone(xp), CategoryXP,
			fmt.Sprintf("%d XP", xp),
			fmt.Sprintf("Earn %d XP in total", xp),
			"⚡", xpAtLeast(xp),
		})
	}
	defs = append(defs,
		Definition{PerfectAttention, CategoryPerfect, "Laser Focus", "Score 100 attention in a lesson", "🎯",
			anyRecord(func(s performance.ScoreSet) bool { return s.Attention == shared.MaxScore })},
		Definition{PerfectMemory, CategoryPerfect, "Total Recall", "Score 100 memory in a lesson", "🧠",
			anyRecord(func(s performance.ScoreSet) bool { return s.Memory == shared.MaxScore })},
		Definition{PerfectSpeed, CategoryPerfect, "Lightning Reflexes", "Score 100 speed in a lesson", "🚀",
			anyRecord(func(s performance.ScoreSet) bool { return s.Speed == shared.MaxScore })},
		Definition{Perfectionist, CategoryPerfect, "Perfect Score", "Score 100 in all three in one lesson", "🏆",
			anyRecord(performance.ScoreSet.IsPerfect)},
	)

	c := &Catalog{defs: defs, index: make(map[ID]int, len(defs))}
	for i, d := range defs {
		c.index[d.ID] = i
	}
	return c
}

// DefaultCatalog - каталог эталонного плана.
func DefaultCatalog() *Catalog {
	return NewCatalog(ReferencePhaseEnds)
}

// Definitions returns the definitions in catalog order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Get returns a definition by id.
func (c *Catalog) Get(id ID) (Definition, bool) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// Set - набор полученных достижений в порядке каталога.
type Set struct {
	ids     []ID
	members map[ID]struct{}
}

// Has reports membership.
func (s Set) Has(id ID) bool {
	_, ok := s.members[id]
	return ok
}

// IDs returns the earned ids in catalog order.
func (s Set) IDs() []ID {
	out := make([]ID, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of earned achievements.
func (s Set) Len() int {
	return len(s.ids)
}

// Diff возвращает достижения из s, которых нет в prev.
func (s Set) Diff(prev Set) []ID {
	return lo.Filter(s.ids, func(id ID, _ int) bool { return !prev.Has(id) })
}

// Evaluate - чистая функция: одинаковый вход всегда даёт одинаковый набор.
func Evaluate(c *Catalog, in Input) Set {
	set := Set{members: make(map[ID]struct{})}
	for _, d := range c.defs {
		if d.Check(in) {
			set.ids = append(set.ids, d.ID)
			set.members[d.ID] = struct{}{}
		}
	}
	return set
}

// Status - определение с признаком получения, для карточки достижений.
type Status struct {
	Definition
	Earned bool `json:"earned"`
}

// Statuses returns every definition with its earned flag, in catalog order.
func (c *Catalog) Statuses(earned Set) []Status {
	return lo.Map(c.defs, func(d Definition, _ int) Status {
		return Status{Definition: d, Earned: earned.Has(d.ID)}
	})
}
