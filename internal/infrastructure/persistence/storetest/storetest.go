// Package storetest holds the behaviour every progression.Store must share.
// Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) progression.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the shared store suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("position lifecycle", func(t *testing.T) { positionLifecycle(t, newStore(t)) })
	t.Run("lesson index is monotonic", func(t *testing.T) { monotonicIndex(t, newStore(t)) })
	t.Run("missing position", func(t *testing.T) { missingPosition(t, newStore(t)) })
	t.Run("score history", func(t *testing.T) { scoreHistory(t, newStore(t)) })
	t.Run("duplicate session is rejected", func(t *testing.T) { duplicateSession(t, newStore(t)) })
	t.Run("atomically commits", func(t *testing.T) { atomicallyCommits(t, newStore(t)) })
	t.Run("atomically rolls back", func(t *testing.T) { atomicallyRollsBack(t, newStore(t)) })
}

func createPosition(t *testing.T, s progression.Store, userID string) {
	t.Helper()
	pos, err := progression.NewPosition(userID, base)
	require.NoError(t, err)
	require.NoError(t, s.Positions().Create(context.Background(), pos))
}

func record(userID, sessionID, lessonID string, index int, at time.Time, scores performance.ScoreSet) *performance.ScoreRecord {
	return &performance.ScoreRecord{
		UserID:      userID,
		LessonID:    lessonID,
		LessonIndex: index,
		SessionID:   sessionID,
		Scores:      scores,
		XP:          50 + scores.Sum()/3,
		CompletedAt: at,
	}
}

func positionLifecycle(t *testing.T, s progression.Store) {
	ctx := context.Background()
	createPosition(t, s, "u1")

	pos, err := s.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, pos.CurrentLessonIndex)
	assert.Equal(t, 0, pos.TotalXP)
	assert.Nil(t, pos.LastDailyClaim)

	again, err := progression.NewPosition("u1", base)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Positions().Create(ctx, again), progression.ErrPositionExists)

	total, err := s.Positions().AddXP(ctx, "u1", 120)
	require.NoError(t, err)
	assert.Equal(t, 120, total)

	total, err = s.Positions().AddXP(ctx, "u1", -40)
	require.NoError(t, err)
	assert.Equal(t, 120, total)

	claimAt := base.Add(2 * time.Hour)
	require.NoError(t, s.Positions().SetLastDailyClaim(ctx, "u1", claimAt))

	pos, err = s.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 120, pos.TotalXP)
	require.NotNil(t, pos.LastDailyClaim)
	assert.True(t, claimAt.Equal(*pos.LastDailyClaim))
}

func monotonicIndex(t *testing.T, s progression.Store) {
	ctx := context.Background()
	createPosition(t, s, "u1")

	moved, err := s.Positions().SetCurrentLessonIndex(ctx, "u1", 3)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.Positions().SetCurrentLessonIndex(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = s.Positions().SetCurrentLessonIndex(ctx, "u1", 3)
	require.NoError(t, err)
	assert.False(t, moved)

	pos, err := s.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, pos.CurrentLessonIndex)
}

func missingPosition(t *testing.T, s progression.Store) {
	ctx := context.Background()

	_, err := s.Positions().Get(ctx, "ghost")
	assert.ErrorIs(t, err, progression.ErrPositionNotFound)
	assert.True(t, shared.IsNotFound(err))

	_, err = s.Positions().SetCurrentLessonIndex(ctx, "ghost", 1)
	assert.ErrorIs(t, err, progression.ErrPositionNotFound)

	_, err = s.Positions().AddXP(ctx, "ghost", 10)
	assert.ErrorIs(t, err, progression.ErrPositionNotFound)

	assert.ErrorIs(t, s.Positions().SetLastDailyClaim(ctx, "ghost", base), progression.ErrPositionNotFound)

	_, err = s.Scores().BySession(ctx, "nope")
	assert.ErrorIs(t, err, progression.ErrScoreNotFound)
}

func scoreHistory(t *testing.T, s progression.Store) {
	ctx := context.Background()
	createPosition(t, s, "u1")
	createPosition(t, s, "u2")

	later := record("u1", "s2", "lesson-2", 1, base.Add(time.Hour), performance.ScoreSet{Attention: 80, Memory: 70, Speed: 60})
	earlier := record("u1", "s1", "lesson-1", 0, base, performance.ScoreSet{Attention: 100, Memory: 100, Speed: 100})
	other := record("u2", "s3", "lesson-1", 0, base, performance.ScoreSet{Attention: 10, Memory: 20, Speed: 30})

	require.NoError(t, s.Scores().Save(ctx, later))
	require.NoError(t, s.Scores().Save(ctx, earlier))
	require.NoError(t, s.Scores().Save(ctx, other))
	assert.NotEmpty(t, earlier.ID)

	history, err := s.Scores().History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "s1", history[0].SessionID)
	assert.Equal(t, "s2", history[1].SessionID)
	assert.Equal(t, performance.ScoreSet{Attention: 80, Memory: 70, Speed: 60}, history[1].Scores)
	assert.Equal(t, "lesson-2", history[1].LessonID)
	assert.True(t, base.Add(time.Hour).Equal(history[1].CompletedAt))

	got, err := s.Scores().BySession(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.UserID)
	assert.Equal(t, other.XP, got.XP)

	empty, err := s.Scores().History(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func duplicateSession(t *testing.T, s progression.Store) {
	ctx := context.Background()
	createPosition(t, s, "u1")

	first := record("u1", "s1", "lesson-1", 0, base, performance.ScoreSet{Attention: 50, Memory: 50, Speed: 50})
	require.NoError(t, s.Scores().Save(ctx, first))

	dup := record("u1", "s1", "lesson-1", 0, base.Add(time.Minute), performance.ScoreSet{Attention: 90, Memory: 90, Speed: 90})
	err := s.Scores().Save(ctx, dup)
	assert.ErrorIs(t, err, progression.ErrScoreAlreadyRecorded)
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	history, err := s.Scores().History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 50, history[0].Scores.Attention)
}

func atomicallyCommits(t *testing.T, s progression.Store) {
	ctx := context.Background()
	createPosition(t, s, "u1")

	err := s.Atomically(ctx, func(ctx context.Context, repos progression.Repositories) error {
		pos, err := repos.Positions().GetForUpdate(ctx, "u1")
		if err != nil {
			return err
		}
		rec := record("u1", "s1", "lesson-1", pos.CurrentLessonIndex, base, performance.ScoreSet{Attention: 90, Memory: 90, Speed: 90})
		if err := repos.Scores().Save(ctx, rec); err != nil {
			return err
		}
		if _, err := repos.Positions().AddXP(ctx, "u1", rec.XP); err != nil {
			return err
		}
		_, err = repos.Positions().SetCurrentLessonIndex(ctx, "u1", 1)
		return err
	})
	require.NoError(t, err)

	pos, err := s.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos.CurrentLessonIndex)
	assert.Equal(t, 140, pos.TotalXP)

	// A duplicate inside a transaction leaves it usable.
	err = s.Atomically(ctx, func(ctx context.Context, repos progression.Repositories) error {
		dup := record("u1", "s1", "lesson-1", 0, base, performance.ScoreSet{})
		if err := repos.Scores().Save(ctx, dup); !errors.Is(err, progression.ErrScoreAlreadyRecorded) {
			return errors.New("expected duplicate")
		}
		_, err := repos.Positions().Get(ctx, "u1")
		return err
	})
	assert.NoError(t, err)
}

func atomicallyRollsBack(t *testing.T, s progression.Store) {
	ctx := context.Background()
	createPosition(t, s, "u1")
	boom := errors.New("boom")

	err := s.Atomically(ctx, func(ctx context.Context, repos progression.Repositories) error {
		if err := repos.Scores().Save(ctx, record("u1", "s1", "lesson-1", 0, base, performance.ScoreSet{Attention: 100})); err != nil {
			return err
		}
		if _, err := repos.Positions().AddXP(ctx, "u1", 83); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pos, err := s.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, pos.TotalXP)

	_, err = s.Scores().BySession(ctx, "s1")
	assert.ErrorIs(t, err, progression.ErrScoreNotFound)
}
