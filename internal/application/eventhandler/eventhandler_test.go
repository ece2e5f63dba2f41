package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

type fakeInvalidator struct {
	users []string
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.err
}

func TestOnProgressChanged_InvalidatesLearner(t *testing.T) {
	cache := &fakeInvalidator{}
	h := NewOnProgressChangedHandler(cache, nil)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, shared.NewLessonCompletedEvent("u1", "s1", "vocab-01", 0, 90, 80, 70, 130, false)))
	require.NoError(t, h.Handle(ctx, shared.NewDailyRewardClaimedEvent("u2", 100, 100, time.Now())))
	require.NoError(t, h.Handle(ctx, shared.NewLearnerRegisteredEvent("u3")))

	assert.Equal(t, []string{"u1", "u2"}, cache.users)
	assert.ElementsMatch(t, []shared.EventType{shared.EventLessonCompleted, shared.EventDailyRewardClaimed}, h.EventTypes())
}

func TestOnProgressChanged_ReportsCacheFailure(t *testing.T) {
	down := errors.New("circuit breaker is open")
	h := NewOnProgressChangedHandler(&fakeInvalidator{err: down}, nil)

	err := h.Handle(context.Background(), shared.NewDailyRewardClaimedEvent("u1", 100, 100, time.Now()))
	assert.ErrorIs(t, err, down)
	assert.False(t, shared.IsDomain(err))
}

func TestOnAchievementUnlocked(t *testing.T) {
	h := NewOnAchievementUnlockedHandler(nil)
	assert.NoError(t, h.Handle(context.Background(), shared.NewAchievementUnlockedEvent("u1", "first_mission")))
	assert.NoError(t, h.Handle(context.Background(), shared.NewLearnerRegisteredEvent("u1")))
}
