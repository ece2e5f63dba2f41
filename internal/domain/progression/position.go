package progression

import (
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// Position - сохраняемое положение ученика в учебном плане.
type Position struct {
	// UserID - идентификатор ученика.
	UserID string `json:"userId"`

	// CurrentLessonIndex - глобальный индекс первого непройденного урока.
	CurrentLessonIndex int `json:"currentLessonIndex"`

	// TotalXP - суммарный опыт. Не уменьшается.
	TotalXP int `json:"totalXP"`

	// LastDailyClaim - время последнего ежедневного бонуса (nil - не получал).
	LastDailyClaim *time.Time `json:"lastDailyClaim,omitempty"`

	// CreatedAt и UpdatedAt - служебные отметки хранилища.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPosition создаёт нулевую позицию для нового ученика.
func NewPosition(userID string, now time.Time) (*Position, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	return &Position{
		UserID:    id.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NextLessonIndex возвращает индекс, который откроется после урока completedIndex.
func NextLessonIndex(completedIndex int) int {
	return completedIndex + 1
}

// AdvanceAfter выставляет CurrentLessonIndex = completedIndex+1, только если
// это значение больше текущего. Возвращает true, если позиция сдвинулась.
func (p *Position) AdvanceAfter(completedIndex int) bool {
	next := NextLessonIndex(completedIndex)
	if next <= p.CurrentLessonIndex {
		return false
	}
	p.CurrentLessonIndex = next
	return true
}

// AddXP прибавляет опыт. Отрицательные и нулевые суммы игнорируются.
func (p *Position) AddXP(amount int) {
	p.TotalXP = shared.XP(p.TotalXP).Add(amount).Int()
}

// IsReplay сообщает, был ли урок lessonIndex уже пройден.
func (p *Position) IsReplay(lessonIndex int) bool {
	return lessonIndex < p.CurrentLessonIndex
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.LastDailyClaim != nil {
		t := *p.LastDailyClaim
		c.LastDailyClaim = &t
	}
	return &c
}
