package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/memory"
)

func newFinalizeHandler(t *testing.T, store progression.Store, pub shared.EventPublisher, cfg HandlerConfig) *FinalizeLessonHandler {
	t.Helper()
	return NewFinalizeLessonHandler(store, testCurriculum(t), nil, pub, cfg)
}

func TestFinalizeLesson_FirstCompletion(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	pub := &recordingPublisher{}
	h := newFinalizeHandler(t, store, pub, testConfig())

	res, err := h.Handle(context.Background(), FinalizeLessonCommand{
		UserID:      "u1",
		SessionID:   "s1",
		LessonIndex: 0,
		LessonID:    "vocab-01",
		Scores:      performance.NewScoreSet(100, 100, 100),
	})
	require.NoError(t, err)

	assert.False(t, res.AlreadyApplied)
	assert.False(t, res.Replay)
	assert.True(t, res.Unlocked)
	assert.Equal(t, 150, res.XPAwarded)
	assert.Equal(t, 1, res.Position.CurrentLessonIndex)
	assert.Equal(t, 150, res.Position.TotalXP)
	assert.Equal(t, "vocab-01", res.Record.LessonID)
	assert.Equal(t, testNow, res.Record.CompletedAt)
	assert.NotEmpty(t, res.Record.ID)

	assert.Equal(t, []achievement.ID{
		achievement.FirstMission,
		achievement.XPMilestone(100),
		achievement.PerfectAttention,
		achievement.PerfectMemory,
		achievement.PerfectSpeed,
		achievement.Perfectionist,
	}, res.NewAchievements)

	types := pub.types()
	require.Len(t, types, 9)
	assert.Equal(t, []shared.EventType{
		shared.EventLessonCompleted,
		shared.EventXPGained,
		shared.EventLessonUnlocked,
	}, types[:3])
	for _, typ := range types[3:] {
		assert.Equal(t, shared.EventAchievementUnlocked, typ)
	}

	stored, err := store.Positions().Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentLessonIndex)
	assert.Equal(t, 150, stored.TotalXP)
}

func TestFinalizeLesson_SameSessionIsAppliedOnce(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	pub := &recordingPublisher{}
	h := newFinalizeHandler(t, store, pub, testConfig())
	ctx := context.Background()

	cmd := FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 0, Scores: performance.NewScoreSet(60, 60, 60)}
	first, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	published := len(pub.types())

	second, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 110, second.Position.TotalXP)
	assert.Zero(t, second.XPAwarded)
	assert.Len(t, pub.types(), published)

	history, err := store.Scores().History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFinalizeLesson_ReplayAwardsXPWithoutMovingPosition(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	h := newFinalizeHandler(t, store, nil, testConfig())
	ctx := context.Background()

	_, err := h.Handle(ctx, FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 0, Scores: performance.NewScoreSet(0, 0, 0)})
	require.NoError(t, err)
	_, err = h.Handle(ctx, FinalizeLessonCommand{UserID: "u1", SessionID: "s2", LessonIndex: 1, Scores: performance.NewScoreSet(0, 0, 0)})
	require.NoError(t, err)

	res, err := h.Handle(ctx, FinalizeLessonCommand{UserID: "u1", SessionID: "s3", LessonIndex: 0, Scores: performance.NewScoreSet(30, 30, 30)})
	require.NoError(t, err)
	assert.True(t, res.Replay)
	assert.False(t, res.Unlocked)
	assert.Equal(t, 80, res.XPAwarded)
	assert.Equal(t, 2, res.Position.CurrentLessonIndex)
	assert.Equal(t, 50+50+80, res.Position.TotalXP)
}

func TestFinalizeLesson_Rejections(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	h := newFinalizeHandler(t, store, nil, testConfig())
	ctx := context.Background()

	tests := []struct {
		name  string
		cmd   FinalizeLessonCommand
		check func(error) bool
	}{
		{
			name:  "locked lesson",
			cmd:   FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 2},
			check: func(err error) bool { return errors.Is(err, progression.ErrLessonLocked) },
		},
		{
			name:  "unknown lesson",
			cmd:   FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 9},
			check: shared.IsNotFound,
		},
		{
			name:  "lesson id mismatch",
			cmd:   FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 0, LessonID: "vocab-02"},
			check: shared.IsValidation,
		},
		{
			name:  "missing session",
			cmd:   FinalizeLessonCommand{UserID: "u1", LessonIndex: 0},
			check: shared.IsValidation,
		},
		{
			name:  "unregistered learner",
			cmd:   FinalizeLessonCommand{UserID: "ghost", SessionID: "s1", LessonIndex: 0},
			check: func(err error) bool { return errors.Is(err, progression.ErrPositionNotFound) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(ctx, tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	pos, err := store.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, pos.TotalXP)
}

func TestFinalizeLesson_RetriesOnlyTransientFailures(t *testing.T) {
	flaky := &flakyStore{Store: memory.NewStore(), failures: 2, err: errConnReset}
	registered(t, flaky, "u1")
	h := newFinalizeHandler(t, flaky, nil, testConfig())

	res, err := h.Handle(context.Background(), FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, 50, res.Position.TotalXP)

	flaky.failures = 0
	flaky.calls.Store(0)
	_, err = h.Handle(context.Background(), FinalizeLessonCommand{UserID: "u1", SessionID: "s2", LessonIndex: 3})
	assert.ErrorIs(t, err, progression.ErrLessonLocked)
	assert.Equal(t, int32(1), flaky.calls.Load())

	exhausted := &flakyStore{Store: memory.NewStore(), failures: 10, err: errConnReset}
	registered(t, exhausted, "u1")
	_, err = newFinalizeHandler(t, exhausted, nil, testConfig()).Handle(context.Background(),
		FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 0})
	assert.ErrorIs(t, err, errConnReset)
	assert.Equal(t, int32(3), exhausted.calls.Load())
}

func TestFinalizeLesson_AchievementsFlagOff(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	flags := config.LoadFeatureFlags()
	flags.SetUserOverride("u1", config.FeatureAchievements, false)
	cfg := testConfig()
	cfg.Flags = flags
	pub := &recordingPublisher{}

	res, err := newFinalizeHandler(t, store, pub, cfg).Handle(context.Background(),
		FinalizeLessonCommand{UserID: "u1", SessionID: "s1", LessonIndex: 0, Scores: performance.NewScoreSet(100, 100, 100)})
	require.NoError(t, err)
	assert.Empty(t, res.NewAchievements)
	assert.NotContains(t, pub.types(), shared.EventAchievementUnlocked)
}
