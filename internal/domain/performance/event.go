package performance

import (
	"math"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kind - тип мини-игры, породившей событие.
type Kind string

const (
	KindFlipCard        Kind = "flipCard"
	KindEmojiMatch      Kind = "emojiMatch"
	KindMultipleChoice  Kind = "multipleChoice"
	KindMatchColumn     Kind = "matchColumn"
	KindPictureMatch    Kind = "pictureMatch"
	KindAudioQuiz       Kind = "audioQuiz"
	KindSentenceBuilder Kind = "sentenceBuilder"
)

// DefaultReactionTime подставляется для событий с решением без замера времени.
const DefaultReactionTime = 3.0

// AllKinds возвращает все известные типы в стабильном порядке.
func AllKinds() []Kind {
	return []Kind{
		KindFlipCard,
		KindEmojiMatch,
		KindMultipleChoice,
		KindMatchColumn,
		KindPictureMatch,
		KindAudioQuiz,
		KindSentenceBuilder,
	}
}

// IsValid проверяет, что тип известен.
func (k Kind) IsValid() bool {
	switch k {
	case KindFlipCard, KindEmojiMatch, KindMultipleChoice, KindMatchColumn,
		KindPictureMatch, KindAudioQuiz, KindSentenceBuilder:
		return true
	default:
		return false
	}
}

// IsDecision - событие несёт isCorrect и reactionTime (все виды, кроме flipCard).
func (k Kind) IsDecision() bool {
	return k.IsValid() && k != KindFlipCard
}

// IsActiveRecall - задания на активное сопоставление и построение.
func (k Kind) IsActiveRecall() bool {
	return k == KindMatchColumn || k == KindPictureMatch || k == KindSentenceBuilder
}

// RequiresTraversal - шаг нужно пройти заново после возврата назад.
func (k Kind) RequiresTraversal() bool {
	return k == KindFlipCard
}

// String returns the wire name.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", shared.NewDomainError("performance", "ParseKind", shared.ErrInvalidInput, "unknown event kind: "+s)
	}
	return k, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT
// ══════════════════════════════════════════════════════════════════════════════

// Event - неизменяемая запись об одном действии ученика.
// Поля-указатели отсутствуют в JSON, если мини-игра их не передала.
type Event struct {
	Kind         Kind     `json:"type"`
	IsCorrect    *bool    `json:"isCorrect,omitempty"`
	ReactionTime *float64 `json:"reactionTime,omitempty"`
	FlipCount    *int     `json:"flipCount,omitempty"`
}

// NewDecisionEvent создаёт событие с ответом и временем реакции в секундах.
func NewDecisionEvent(kind Kind, correct bool, reactionSeconds float64) Event {
	return Event{
		Kind:         kind,
		IsCorrect:    &correct,
		ReactionTime: &reactionSeconds,
	}
}

// NewDecisionEventNoTiming создаёт событие с ответом без замера времени.
// Так отчитываются игры на сопоставление колонок.
func NewDecisionEventNoTiming(kind Kind, correct bool) Event {
	return Event{
		Kind:      kind,
		IsCorrect: &correct,
	}
}

// NewFlipEvent создаёт событие просмотра карточки.
func NewFlipEvent(flips int) Event {
	return Event{
		Kind:      KindFlipCard,
		FlipCount: &flips,
	}
}

// IsDecision reports whether the event takes part in attention and speed.
func (e Event) IsDecision() bool {
	return e.Kind.IsDecision()
}

// Correct returns false for a missing flag.
func (e Event) Correct() bool {
	return e.IsCorrect != nil && *e.IsCorrect
}

// Incorrect is true only for an explicit false.
func (e Event) Incorrect() bool {
	return e.IsCorrect != nil && !*e.IsCorrect
}

// ReactionSeconds returns the reaction time, or DefaultReactionTime when absent.
func (e Event) ReactionSeconds() float64 {
	if e.ReactionTime == nil {
		return DefaultReactionTime
	}
	return *e.ReactionTime
}

// Flips returns the flip count; a card reported without a count was seen once.
func (e Event) Flips() int {
	if e.FlipCount == nil {
		return 1
	}
	return *e.FlipCount
}

// Validate rejects events whose shape contradicts their kind. Missing
// optional fields are not errors: they are scored with documented defaults.
func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return shared.NewDomainError("performance", "Validate", shared.ErrValidation, "unknown event kind: "+string(e.Kind))
	}

	if e.Kind == KindFlipCard {
		if e.IsCorrect != nil || e.ReactionTime != nil {
			return shared.NewDomainError("performance", "Validate", shared.ErrValidation, "flipCard event cannot carry isCorrect or reactionTime")
		}
		if e.FlipCount != nil && *e.FlipCount < 1 {
			return shared.NewDomainError("performance", "Validate", shared.ErrValueOutOfRange, "flipCount must be positive")
		}
		return nil
	}

	if e.FlipCount != nil {
		return shared.NewDomainError("performance", "Validate", shared.ErrValidation, "flipCount is only valid for flipCard events")
	}
	if e.ReactionTime != nil {
		rt := *e.ReactionTime
		if math.IsNaN(rt) || math.IsInf(rt, 0) || rt < 0 {
			return shared.NewDomainError("performance", "Validate", shared.ErrValueOutOfRange, "reactionTime must be a non-negative number")
		}
	}
	return nil
}
