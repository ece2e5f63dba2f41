package performance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeScores_EmptyLog(t *testing.T) {
	scores := ComputeScores(nil)

	assert.Equal(t, ScoreSet{Attention: 100, Memory: 0, Speed: 0}, scores)
}

func TestComputeScores_MultipleChoiceOnly(t *testing.T) {
	events := []Event{
		NewDecisionEvent(KindMultipleChoice, true, 1.0),
		NewDecisionEvent(KindMultipleChoice, false, 2.0),
	}

	summary := Summarize(events)

	assert.Equal(t, 50, summary.Scores.Attention)
	assert.Equal(t, 100, summary.Scores.Speed)
	assert.Equal(t, 0, summary.Scores.Memory)
	assert.Equal(t, SignalNone, summary.MemorySignal)
	assert.InDelta(t, 1.5, summary.AverageReactionTime, 1e-9)
	assert.Equal(t, 2, summary.DecisionCount)
	assert.Equal(t, 1, summary.CorrectCount)
}

func TestComputeScores_ActiveRecallPenalty(t *testing.T) {
	events := []Event{
		NewDecisionEventNoTiming(KindMatchColumn, true),
		NewDecisionEventNoTiming(KindMatchColumn, true),
		NewDecisionEventNoTiming(KindMatchColumn, false),
		NewDecisionEventNoTiming(KindMatchColumn, true),
	}

	scores := ComputeScores(events)

	assert.Equal(t, 95, scores.Memory)
	assert.Equal(t, 75, scores.Attention)
	// missing reaction times default to 3s
	assert.Equal(t, 70, scores.Speed)
}

func TestComputeScores_ActiveRecallFloorsAtZero(t *testing.T) {
	events := make([]Event, 0, 25)
	for range 25 {
		events = append(events, NewDecisionEvent(KindSentenceBuilder, false, 2))
	}

	assert.Equal(t, 0, ComputeScores(events).Memory)
}

func TestComputeScores_ActiveRecallShadowsLowerSignals(t *testing.T) {
	events := []Event{
		NewFlipEvent(9),
		NewFlipEvent(9),
		NewDecisionEvent(KindAudioQuiz, false, 2),
		NewDecisionEventNoTiming(KindMatchColumn, true),
	}

	summary := Summarize(events)

	assert.Equal(t, SignalActiveRecall, summary.MemorySignal)
	assert.Equal(t, 100, summary.Scores.Memory)
}

func TestComputeScores_MissingCorrectnessIsNotAMistake(t *testing.T) {
	events := []Event{
		{Kind: KindPictureMatch},
		NewDecisionEvent(KindPictureMatch, true, 1),
	}

	scores := ComputeScores(events)

	assert.Equal(t, 100, scores.Memory)
	// but it still counts against accuracy
	assert.Equal(t, 50, scores.Attention)
}

func TestComputeScores_AudioQuiz(t *testing.T) {
	events := []Event{
		NewDecisionEvent(KindAudioQuiz, true, 2),
		NewDecisionEvent(KindAudioQuiz, true, 2),
		NewDecisionEvent(KindAudioQuiz, false, 2),
		NewFlipEvent(1),
	}

	summary := Summarize(events)

	assert.Equal(t, SignalAudioQuiz, summary.MemorySignal)
	assert.Equal(t, 67, summary.Scores.Memory)
	assert.Equal(t, 67, summary.Scores.Attention)
	assert.Equal(t, 90, summary.Scores.Speed)
}

func TestComputeScores_FlipCards(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   int
	}{
		{"single flip each", []Event{NewFlipEvent(1), NewFlipEvent(1)}, 100},
		{"average of two", []Event{NewFlipEvent(1), NewFlipEvent(3)}, 75},
		{"saturated", []Event{NewFlipEvent(5)}, 0},
		{"beyond saturation clamps", []Event{NewFlipEvent(12)}, 0},
		{"missing count counts once", []Event{{Kind: KindFlipCard}}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := ComputeScores(tt.events)
			assert.Equal(t, tt.want, scores.Memory)
			// flips alone carry no decisions
			assert.Equal(t, 100, scores.Attention)
			assert.Equal(t, 0, scores.Speed)
		})
	}
}

func TestComputeScores_Speed(t *testing.T) {
	tests := []struct {
		name     string
		reaction float64
		want     int
	}{
		{"instant clamps to 100", 0, 100},
		{"fast threshold", 1.5, 100},
		{"middle", 4.0, 50},
		{"slow threshold", 6.5, 0},
		{"very slow", 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []Event{NewDecisionEvent(KindEmojiMatch, true, tt.reaction)}
			assert.Equal(t, tt.want, ComputeScores(events).Speed)
		})
	}
}

func TestComputeScores_ScoresAlwaysInRange(t *testing.T) {
	logs := [][]Event{
		nil,
		{NewFlipEvent(1000)},
		{NewDecisionEvent(KindMultipleChoice, false, 1e6)},
		{NewDecisionEvent(KindMultipleChoice, true, 0)},
	}

	for _, events := range logs {
		s := ComputeScores(events)
		for _, v := range []int{s.Attention, s.Memory, s.Speed} {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 100)
		}
	}
}

func TestComputeScores_Deterministic(t *testing.T) {
	events := []Event{
		NewDecisionEvent(KindMultipleChoice, true, 1.2),
		NewDecisionEventNoTiming(KindMatchColumn, false),
		NewFlipEvent(2),
	}

	assert.Equal(t, ComputeScores(events), ComputeScores(events))
}

func TestMemorySignals_Order(t *testing.T) {
	signals := MemorySignals()
	require.Len(t, signals, 3)

	assert.Equal(t, SignalActiveRecall, signals[0].Name)
	assert.Equal(t, SignalAudioQuiz, signals[1].Name)
	assert.Equal(t, SignalFlipCard, signals[2].Name)

	signals[0] = MemorySignal{Name: "mutated"}
	assert.Equal(t, SignalActiveRecall, MemorySignals()[0].Name)
}

func TestAverage(t *testing.T) {
	assert.Equal(t, ScoreSet{}, Average(nil))

	avg := Average([]ScoreSet{
		{Attention: 100, Memory: 50, Speed: 0},
		{Attention: 51, Memory: 50, Speed: 1},
	})
	assert.Equal(t, ScoreSet{Attention: 76, Memory: 50, Speed: 1}, avg)
}

func TestScoreSet_Clamp(t *testing.T) {
	s := NewScoreSet(-5, 140, 60)

	assert.Equal(t, ScoreSet{Attention: 0, Memory: 100, Speed: 60}, s)
	assert.False(t, s.IsPerfect())
	assert.True(t, NewScoreSet(100, 100, 100).IsPerfect())
}
