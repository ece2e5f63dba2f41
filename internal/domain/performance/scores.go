package performance

import (
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ScoreSet - итог одной завершённой сессии урока. Все поля в [0, 100].
type ScoreSet struct {
	Attention int `json:"attentionScore"`
	Memory    int `json:"memoryScore"`
	Speed     int `json:"speedScore"`
}

// NewScoreSet builds a clamped ScoreSet.
func NewScoreSet(attention, memory, speed int) ScoreSet {
	return ScoreSet{
		Attention: attention,
		Memory:    memory,
		Speed:     speed,
	}.Clamp()
}

// Clamp forces every field into [0, 100].
func (s ScoreSet) Clamp() ScoreSet {
	return ScoreSet{
		Attention: shared.ClampScore(s.Attention),
		Memory:    shared.ClampScore(s.Memory),
		Speed:     shared.ClampScore(s.Speed),
	}
}

// Sum returns attention + memory + speed.
func (s ScoreSet) Sum() int {
	return s.Attention + s.Memory + s.Speed
}

// IsPerfect reports whether all three scores are 100.
func (s ScoreSet) IsPerfect() bool {
	return s.Attention == shared.MaxScore && s.Memory == shared.MaxScore && s.Speed == shared.MaxScore
}

// ScoreRecord - сохранённая строка истории: одна на завершённый урок.
// SessionID уникален, повторное сохранение той же сессии отклоняется.
type ScoreRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	LessonID    string    `json:"lessonId"`
	LessonIndex int       `json:"lessonIndex"`
	SessionID   string    `json:"sessionId"`
	Scores      ScoreSet  `json:"scores"`
	XP          int       `json:"xp"`
	CompletedAt time.Time `json:"completedAt"`
}

// ScoreSets extracts the score sets from records, preserving order.
func ScoreSets(records []ScoreRecord) []ScoreSet {
	out := make([]ScoreSet, len(records))
	for i, r := range records {
		out[i] = r.Scores
	}
	return out
}

// Average returns the rounded per-dimension mean of the given sets.
// An empty history averages to zero.
func Average(sets []ScoreSet) ScoreSet {
	if len(sets) == 0 {
		return ScoreSet{}
	}
	var a, m, s int
	for _, set := range sets {
		a += set.Attention
		m += set.Memory
		s += set.Speed
	}
	n := float64(len(sets))
	return NewScoreSet(round(float64(a)/n), round(float64(m)/n), round(float64(s)/n))
}
