package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/dailyreward"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

func TestClaimDailyReward_OncePerCalendarDay(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	pub := &recordingPublisher{}
	cfg := testConfig()
	clock := cfg.Clock.(*timeutil.FixedClock)
	h := NewClaimDailyRewardHandler(store, dailyreward.DefaultPolicy(), nil, pub, cfg)
	ctx := context.Background()

	first, err := h.Handle(ctx, ClaimDailyRewardCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, first.Claimed)
	assert.Equal(t, 100, first.Amount)
	assert.Equal(t, 100, first.Position.TotalXP)
	assert.Equal(t, []achievement.ID{achievement.XPMilestone(100)}, first.NewAchievements)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), first.NextAvailableAt)
	assert.Equal(t, []shared.EventType{
		shared.EventDailyRewardClaimed,
		shared.EventXPGained,
		shared.EventAchievementUnlocked,
	}, pub.types())

	clock.Advance(14 * time.Hour) // 23:30 the same day
	second, err := h.Handle(ctx, ClaimDailyRewardCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, second.Claimed)
	assert.Equal(t, 100, second.Position.TotalXP)
	assert.Equal(t, first.NextAvailableAt, second.NextAvailableAt)
	assert.Len(t, pub.types(), 3)

	clock.Advance(time.Hour) // 00:30 the next day
	third, err := h.Handle(ctx, ClaimDailyRewardCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, third.Claimed)
	assert.Equal(t, 200, third.Position.TotalXP)

	stored, err := store.Positions().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, stored.TotalXP)
	require.NotNil(t, stored.LastDailyClaim)
	assert.True(t, stored.LastDailyClaim.Equal(clock.Now()))
}

func TestClaimDailyReward_CalendarDayInPolicyZone(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	almaty := time.FixedZone("UTC+5", 5*60*60)
	cfg := testConfig()
	clock := cfg.Clock.(*timeutil.FixedClock)
	clock.T = time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC) // 23:30 local
	h := NewClaimDailyRewardHandler(store, dailyreward.NewPolicy(25, almaty), nil, nil, cfg)
	ctx := context.Background()

	res, err := h.Handle(ctx, ClaimDailyRewardCommand{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.Equal(t, 25, res.Amount)

	clock.Advance(time.Hour) // 00:30 local, still March 10 in UTC
	res, err = h.Handle(ctx, ClaimDailyRewardCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, 50, res.Position.TotalXP)
}

func TestClaimDailyReward_Rejections(t *testing.T) {
	store := memory.NewStore()
	registered(t, store, "u1")
	flags := config.LoadFeatureFlags()
	flags.SetUserOverride("u1", config.FeatureDailyReward, false)
	cfg := testConfig()
	cfg.Flags = flags
	h := NewClaimDailyRewardHandler(store, dailyreward.DefaultPolicy(), nil, nil, cfg)
	ctx := context.Background()

	_, err := h.Handle(ctx, ClaimDailyRewardCommand{UserID: "u1"})
	assert.ErrorIs(t, err, ErrDailyRewardDisabled)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = h.Handle(ctx, ClaimDailyRewardCommand{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, ClaimDailyRewardCommand{})
	assert.True(t, shared.IsValidation(err))
}
