package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLesson(steps ...performance.Kind) Lesson {
	return Lesson{ID: "lesson-1", Index: 0, Title: "Greetings", Phase: 1, Steps: steps}
}

func newTestSession(t *testing.T, steps ...performance.Kind) *Session {
	t.Helper()
	s, err := NewSession("sess-1", "user-1", testLesson(steps...), testNow)
	require.NoError(t, err)
	return s
}

func TestNewSession_InitialState(t *testing.T) {
	s := newTestSession(t, performance.KindFlipCard, performance.KindMultipleChoice)

	assert.Equal(t, 0, s.Step())
	assert.False(t, s.StepComplete())
	assert.Equal(t, StateInProgress, s.State())
	assert.False(t, s.InFlight())
	assert.Nil(t, s.Outcome())
}

func TestNewSession_Rejects(t *testing.T) {
	_, err := NewSession("sess", "user", testLesson(), testNow)
	assert.ErrorIs(t, err, ErrEmptyLesson)

	_, err = NewSession("", "user", testLesson(performance.KindFlipCard), testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewSession("sess", "  ", testLesson(performance.KindFlipCard), testNow)
	assert.Error(t, err)
}

func TestSession_AdvanceRequiresGate(t *testing.T) {
	s := newTestSession(t, performance.KindFlipCard, performance.KindMultipleChoice)

	_, err := s.Advance()
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Equal(t, 0, s.Step())

	require.NoError(t, s.ReportStepComplete(true))
	tr, err := s.Advance()
	require.NoError(t, err)

	assert.Equal(t, Transition{FromStep: 0, ToStep: 1}, tr)
	assert.Equal(t, 1, s.Step())
	assert.False(t, s.StepComplete(), "gate resets on every step transition")
}

func TestSession_GateCanBeWithdrawn(t *testing.T) {
	s := newTestSession(t, performance.KindFlipCard, performance.KindMultipleChoice)

	require.NoError(t, s.ReportStepComplete(true))
	require.NoError(t, s.ReportStepComplete(false))

	_, err := s.Advance()
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestSession_FinalStepFinalizesOnce(t *testing.T) {
	s := newTestSession(t, performance.KindMultipleChoice)
	require.NoError(t, s.ReportEvent(performance.NewDecisionEvent(performance.KindMultipleChoice, true, 1.0)))
	require.NoError(t, s.ReportEvent(performance.NewDecisionEvent(performance.KindMultipleChoice, false, 2.0)))

	tr, err := s.Advance()
	require.NoError(t, err)

	require.True(t, tr.Finalize)
	require.NotNil(t, tr.Outcome)
	assert.False(t, tr.Retry)
	assert.Equal(t, 50, tr.Outcome.Scores.Attention)
	assert.Equal(t, 100, tr.Outcome.Scores.Speed)
	assert.Equal(t, 0, tr.Outcome.Scores.Memory)
	assert.Equal(t, 100, tr.Outcome.XP)
	assert.Equal(t, StateFinalizing, s.State())
	assert.True(t, s.InFlight())

	// double click while the first finalize is running
	_, err = s.Advance()
	assert.ErrorIs(t, err, ErrFinalizeInFlight)
	assert.True(t, shared.IsStateConflict(err))

	require.NoError(t, s.CompleteFinalize())
	assert.Equal(t, StateResults, s.State())

	_, err = s.Advance()
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestSession_FailedFinalizeRetainsOutcome(t *testing.T) {
	s := newTestSession(t, performance.KindFlipCard)
	require.NoError(t, s.ReportEvent(performance.NewFlipEvent(3)))

	first, err := s.Advance()
	require.NoError(t, err)
	require.NoError(t, s.FailFinalize())
	assert.False(t, s.InFlight())
	assert.Equal(t, StateFinalizing, s.State())

	// no new events can sneak into the retained log
	assert.ErrorIs(t, s.ReportEvent(performance.NewFlipEvent(1)), ErrNotInProgress)

	retry, err := s.Advance()
	require.NoError(t, err)
	assert.True(t, retry.Finalize)
	assert.True(t, retry.Retry)
	assert.Same(t, first.Outcome, retry.Outcome)
	assert.True(t, s.InFlight())

	require.NoError(t, s.CompleteFinalize())
	assert.ErrorIs(t, s.CompleteFinalize(), ErrNotFinalizing)
	assert.ErrorIs(t, s.FailFinalize(), ErrNotFinalizing)
}

func TestSession_FinalStepIgnoresGateOnFirstAttempt(t *testing.T) {
	s := newTestSession(t, performance.KindAudioQuiz)
	assert.False(t, s.StepComplete())

	tr, err := s.Advance()
	require.NoError(t, err)
	assert.True(t, tr.Finalize)
}

func TestSession_Retreat(t *testing.T) {
	s := newTestSession(t,
		performance.KindFlipCard,
		performance.KindMultipleChoice,
		performance.KindEmojiMatch,
	)

	assert.ErrorIs(t, s.Retreat(), ErrAtFirstStep)

	require.NoError(t, s.ReportStepComplete(true))
	_, err := s.Advance()
	require.NoError(t, err)
	require.NoError(t, s.ReportStepComplete(true))
	_, err = s.Advance()
	require.NoError(t, err)
	require.Equal(t, 2, s.Step())

	// quiz steps stay open on the way back
	require.NoError(t, s.Retreat())
	assert.Equal(t, 1, s.Step())
	assert.True(t, s.StepComplete())

	// flip cards must be traversed again
	require.NoError(t, s.Retreat())
	assert.Equal(t, 0, s.Step())
	assert.False(t, s.StepComplete())
}

func TestSession_RetreatNotAllowedWhileFinalizing(t *testing.T) {
	s := newTestSession(t, performance.KindMultipleChoice)
	_, err := s.Advance()
	require.NoError(t, err)

	assert.ErrorIs(t, s.Retreat(), ErrNotInProgress)
	assert.ErrorIs(t, s.ReportStepComplete(true), ErrNotInProgress)
}

func TestSession_ReportEventValidates(t *testing.T) {
	s := newTestSession(t, performance.KindFlipCard)

	err := s.ReportEvent(performance.Event{Kind: "unknown"})
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, s.Events())
}

func TestSession_View(t *testing.T) {
	s := newTestSession(t, performance.KindFlipCard, performance.KindAudioQuiz)
	require.NoError(t, s.ReportEvent(performance.NewFlipEvent(1)))
	s.Touch(testNow.Add(time.Minute))

	v := s.View()
	assert.Equal(t, "sess-1", v.ID)
	assert.Equal(t, "lesson-1", v.LessonID)
	assert.Equal(t, 2, v.StepCount)
	assert.Equal(t, performance.KindFlipCard, v.StepKind)
	assert.Equal(t, 1, v.EventCount)
	assert.Nil(t, v.Outcome)
	assert.Equal(t, testNow.Add(time.Minute), s.LastActivity())
}
