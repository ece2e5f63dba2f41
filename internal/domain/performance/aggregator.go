package performance

import (
	"math"

	"github.com/samber/lo"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MistakePenalty - штраф памяти за одну ошибку в active recall.
	MistakePenalty = 5

	// FlipSaturation - при среднем числе переворотов 1 + FlipSaturation память = 0.
	FlipSaturation = 4.0

	// FastReaction - среднее время, при котором скорость = 100.
	FastReaction = 1.5

	// ReactionWindow - ширина линейной шкалы скорости в секундах.
	ReactionWindow = 5.0

	// NeutralAttention - внимание при отсутствии событий с решением.
	NeutralAttention = 100
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMORY SIGNALS
// ══════════════════════════════════════════════════════════════════════════════

// MemorySignal is one row of the memory priority table.
type MemorySignal struct {
	// Name identifies the signal in logs and summaries.
	Name string

	// Applies reports whether the log carries this signal at all.
	Applies func(events []Event) bool

	// Score computes the memory score from the log. Only called when Applies.
	Score func(events []Event) int
}

// Signal names.
const (
	SignalActiveRecall = "active_recall"
	SignalAudioQuiz    = "audio_quiz"
	SignalFlipCard     = "flip_card"
	SignalNone         = "none"
)

var memorySignals = []MemorySignal{
	{
		Name: SignalActiveRecall,
		Applies: func(events []Event) bool {
			return lo.ContainsBy(events, func(e Event) bool { return e.Kind.IsActiveRecall() })
		},
		Score: func(events []Event) int {
			mistakes := lo.CountBy(events, func(e Event) bool {
				return e.Kind.IsActiveRecall() && e.Incorrect()
			})
			return max(0, shared.MaxScore-MistakePenalty*mistakes)
		},
	},
	{
		Name: SignalAudioQuiz,
		Applies: func(events []Event) bool {
			return lo.ContainsBy(events, func(e Event) bool { return e.Kind == KindAudioQuiz })
		},
		Score: func(events []Event) int {
			quiz := lo.Filter(events, func(e Event, _ int) bool { return e.Kind == KindAudioQuiz })
			correct := lo.CountBy(quiz, func(e Event) bool { return e.Correct() })
			return round(100 * float64(correct) / float64(len(quiz)))
		},
	},
	{
		Name: SignalFlipCard,
		Applies: func(events []Event) bool {
			return lo.ContainsBy(events, func(e Event) bool { return e.Kind == KindFlipCard })
		},
		Score: func(events []Event) int {
			cards := lo.Filter(events, func(e Event, _ int) bool { return e.Kind == KindFlipCard })
			total := lo.SumBy(cards, func(e Event) int { return e.Flips() })
			avg := float64(total) / float64(len(cards))
			return round(shared.ClampPercent(100 * (1 - (avg-1)/FlipSaturation)))
		},
	},
}

// MemorySignals returns the memory priority table, highest priority first.
func MemorySignals() []MemorySignal {
	out := make([]MemorySignal, len(memorySignals))
	copy(out, memorySignals)
	return out
}

// selectMemorySignal returns the first applicable signal, or nil.
func selectMemorySignal(events []Event) *MemorySignal {
	for i := range memorySignals {
		if memorySignals[i].Applies(events) {
			return &memorySignals[i]
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATION
// ══════════════════════════════════════════════════════════════════════════════

// Summary exposes the intermediate statistics behind a ScoreSet.
type Summary struct {
	EventCount          int      `json:"eventCount"`
	DecisionCount       int      `json:"decisionCount"`
	CorrectCount        int      `json:"correctCount"`
	AverageReactionTime float64  `json:"averageReactionTime"`
	MemorySignal        string   `json:"memorySignal"`
	Scores              ScoreSet `json:"scores"`
}

// Summarize computes the scores together with their inputs.
func Summarize(events []Event) Summary {
	decisions := lo.Filter(events, func(e Event, _ int) bool { return e.IsDecision() })
	correct := lo.CountBy(decisions, func(e Event) bool { return e.Correct() })

	// Без событий с решением скорость не измерялась: 0, а не 100.
	attention := NeutralAttention
	avgReaction := 0.0
	speed := 0
	if n := len(decisions); n > 0 {
		attention = round(100 * float64(correct) / float64(n))
		avgReaction = lo.SumBy(decisions, func(e Event) float64 { return e.ReactionSeconds() }) / float64(n)
		speed = round(shared.ClampPercent(100 * (1 - (avgReaction-FastReaction)/ReactionWindow)))
	}

	memory := 0
	signal := SignalNone
	if sig := selectMemorySignal(events); sig != nil {
		memory = sig.Score(events)
		signal = sig.Name
	}

	return Summary{
		EventCount:          len(events),
		DecisionCount:       len(decisions),
		CorrectCount:        correct,
		AverageReactionTime: avgReaction,
		MemorySignal:        signal,
		Scores:              NewScoreSet(attention, memory, speed),
	}
}

// ComputeScores сводит журнал сессии к трём оценкам.
// Пустой журнал даёт attention=100, memory=0, speed=0.
func ComputeScores(events []Event) ScoreSet {
	return Summarize(events).Scores
}

// round rounds half away from zero; every value rounded here is non-negative.
func round(v float64) int {
	return int(math.Round(v))
}
