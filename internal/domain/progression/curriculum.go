package progression

import (
	"fmt"
	"strings"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSONS & PHASES
// ══════════════════════════════════════════════════════════════════════════════

// Lesson - один урок учебного плана.
type Lesson struct {
	// ID - стабильный идентификатор урока (попадает в историю оценок).
	ID string `json:"id"`

	// Index - глобальный индекс с нуля.
	Index int `json:"index"`

	// Title - название для карты уроков.
	Title string `json:"title"`

	// Phase - номер фазы с единицы.
	Phase int `json:"phase"`

	// Steps - виды мини-игр по шагам урока.
	Steps []performance.Kind `json:"steps"`
}

// StepCount returns the number of steps.
func (l Lesson) StepCount() int {
	return len(l.Steps)
}

// Phase - непрерывный диапазон уроков [Start, End).
type Phase struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Contains reports whether the global index belongs to the phase.
func (p Phase) Contains(index int) bool {
	return index >= p.Start && index < p.End
}

// Len returns the number of lessons in the phase.
func (p Phase) Len() int {
	return p.End - p.Start
}

// LessonStatus - состояние урока на карте.
type LessonStatus string

const (
	LessonLocked    LessonStatus = "locked"
	LessonUnlocked  LessonStatus = "unlocked"
	LessonCompleted LessonStatus = "completed"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// PhaseDefinition описывает фазу до построения Curriculum.
type PhaseDefinition struct {
	Title   string
	Lessons []LessonDefinition
}

// LessonDefinition описывает урок до назначения глобального индекса.
type LessonDefinition struct {
	ID    string
	Title string
	Steps []performance.Kind
}

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

// Curriculum - неизменяемый учебный план. Безопасен для конкурентного чтения.
type Curriculum struct {
	lessons []Lesson
	phases  []Phase
	byID    map[string]int
}

// NewCurriculum строит учебный план и назначает глобальные индексы
// в порядке фаз и уроков.
func NewCurriculum(defs []PhaseDefinition) (*Curriculum, error) {
	if len(defs) == 0 {
		return nil, invalidCurriculum("no phases defined")
	}

	c := &Curriculum{byID: make(map[string]int)}
	for pi, pd := range defs {
		if len(pd.Lessons) == 0 {
			return nil, invalidCurriculum(fmt.Sprintf("phase %d has no lessons", pi+1))
		}
		phase := Phase{Number: pi + 1, Title: pd.Title, Start: len(c.lessons)}

		for _, ld := range pd.Lessons {
			id := strings.TrimSpace(ld.ID)
			if id == "" {
				return nil, invalidCurriculum(fmt.Sprintf("phase %d: lesson without id", pi+1))
			}
			if _, dup := c.byID[id]; dup {
				return nil, invalidCurriculum("duplicate lesson id: " + id)
			}
			if len(ld.Steps) == 0 {
				return nil, invalidCurriculum("lesson " + id + " has no steps")
			}
			for _, k := range ld.Steps {
				if !k.IsValid() {
					return nil, invalidCurriculum(fmt.Sprintf("lesson %s: unknown step kind %q", id, k))
				}
			}

			steps := make([]performance.Kind, len(ld.Steps))
			copy(steps, ld.Steps)

			idx := len(c.lessons)
			c.byID[id] = idx
			c.lessons = append(c.lessons, Lesson{
				ID:    id,
				Index: idx,
				Title: ld.Title,
				Phase: phase.Number,
				Steps: steps,
			})
		}

		phase.End = len(c.lessons)
		c.phases = append(c.phases, phase)
	}

	return c, nil
}

func invalidCurriculum(msg string) error {
	return shared.WrapError(domainName, "NewCurriculum", shared.ErrValidation, msg, ErrInvalidCurriculum)
}

// Len возвращает число уроков.
func (c *Curriculum) Len() int {
	return len(c.lessons)
}

// Lesson возвращает урок по глобальному индексу.
func (c *Curriculum) Lesson(index int) (Lesson, error) {
	if index < 0 || index >= len(c.lessons) {
		return Lesson{}, ErrLessonNotFound
	}
	return c.lessons[index], nil
}

// LessonByID возвращает урок по идентификатору.
func (c *Curriculum) LessonByID(id string) (Lesson, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Lesson{}, ErrLessonNotFound
	}
	return c.lessons[idx], nil
}

// Lessons returns a copy of all lessons in global order.
func (c *Curriculum) Lessons() []Lesson {
	out := make([]Lesson, len(c.lessons))
	copy(out, c.lessons)
	return out
}

// Phases returns a copy of the phase ranges.
func (c *Curriculum) Phases() []Phase {
	out := make([]Phase, len(c.phases))
	copy(out, c.phases)
	return out
}

// PhaseOf возвращает фазу, которой принадлежит индекс.
func (c *Curriculum) PhaseOf(index int) (Phase, bool) {
	for _, p := range c.phases {
		if p.Contains(index) {
			return p, true
		}
	}
	return Phase{}, false
}

// PhaseEnds возвращает исключающие концы фаз. Достижение
// CurrentLessonIndex >= End означает, что фаза пройдена.
func (c *Curriculum) PhaseEnds() []int {
	ends := make([]int, len(c.phases))
	for i, p := range c.phases {
		ends[i] = p.End
	}
	return ends
}

// Status определяет состояние урока относительно позиции ученика.
func Status(index, currentLessonIndex int) LessonStatus {
	switch {
	case index < currentLessonIndex:
		return LessonCompleted
	case index == currentLessonIndex:
		return LessonUnlocked
	default:
		return LessonLocked
	}
}

// Status определяет состояние урока учебного плана.
func (c *Curriculum) Status(index, currentLessonIndex int) LessonStatus {
	return Status(index, currentLessonIndex)
}

// CanStart - урок не заблокирован. Повтор пройденных уроков разрешён.
func (c *Curriculum) CanStart(index, currentLessonIndex int) bool {
	if index < 0 || index >= len(c.lessons) {
		return false
	}
	return Status(index, currentLessonIndex) != LessonLocked
}

// IsComplete сообщает, пройден ли весь учебный план.
func (c *Curriculum) IsComplete(currentLessonIndex int) bool {
	return currentLessonIndex >= len(c.lessons)
}
