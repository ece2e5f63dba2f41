package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestDateOf_UsesLocation(t *testing.T) {
	plus5 := time.FixedZone("UTC+5", 5*60*60)
	instant := time.Date(2025, 3, 1, 21, 0, 0, 0, time.UTC)

	assert.Equal(t, Date{2025, time.March, 1}, DateOf(instant, time.UTC))
	assert.Equal(t, Date{2025, time.March, 2}, DateOf(instant, plus5))
	assert.Equal(t, "2025-03-02", DateOf(instant, plus5).String())
}

func TestDate_Before(t *testing.T) {
	assert.True(t, Date{2024, time.December, 31}.Before(Date{2025, time.January, 1}))
	assert.True(t, Date{2025, time.January, 31}.Before(Date{2025, time.February, 1}))
	assert.True(t, Date{2025, time.February, 1}.Before(Date{2025, time.February, 2}))
	assert.False(t, Date{2025, time.February, 2}.Before(Date{2025, time.February, 2}))
	// later month with an earlier day is not before
	assert.False(t, Date{2025, time.March, 1}.Before(Date{2025, time.February, 28}))
}

func TestIsEarlierDay(t *testing.T) {
	today0001 := time.Date(2025, 5, 10, 0, 1, 0, 0, time.UTC)
	today2359 := time.Date(2025, 5, 10, 23, 59, 0, 0, time.UTC)
	yesterday2359 := time.Date(2025, 5, 9, 23, 59, 0, 0, time.UTC)

	assert.False(t, IsEarlierDay(today0001, today2359, time.UTC))
	assert.True(t, IsEarlierDay(yesterday2359, today0001, time.UTC))
}

func TestStartOfNextDay(t *testing.T) {
	at := time.Date(2025, 12, 31, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), StartOfNextDay(at, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), StartOfDay(at, nil))
}

func TestFixedClock(t *testing.T) {
	c := &FixedClock{T: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.Advance(90 * time.Minute)

	assert.Equal(t, time.Date(2025, 1, 1, 1, 30, 0, 0, time.UTC), c.Now())
}
