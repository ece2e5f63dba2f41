package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
)

func TestEvaluate_NewLearner(t *testing.T) {
	set := Evaluate(DefaultCatalog(), Input{})

	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.IDs())
}

func TestEvaluate_LessonMilestones(t *testing.T) {
	c := DefaultCatalog()

	set := Evaluate(c, Input{CurrentLessonIndex: 1})
	assert.True(t, set.Has(FirstMission))
	assert.False(t, set.Has(PhaseComplete(1)))

	set = Evaluate(c, Input{CurrentLessonIndex: 14})
	assert.True(t, set.Has(PhaseComplete(1)))
	assert.True(t, set.Has(PhaseComplete(2)))
	assert.False(t, set.Has(PhaseComplete(3)))

	set = Evaluate(c, Input{CurrentLessonIndex: 28})
	assert.True(t, set.Has(PhaseComplete(4)))
}

func TestEvaluate_CustomPhaseEnds(t *testing.T) {
	c := NewCatalog([]int{3, 5})

	set := Evaluate(c, Input{CurrentLessonIndex: 3})
	assert.True(t, set.Has(PhaseComplete(1)))
	assert.False(t, set.Has(PhaseComplete(2)))

	_, ok := c.Get(PhaseComplete(3))
	assert.False(t, ok)
}

func TestEvaluate_XPMilestones(t *testing.T) {
	c := DefaultCatalog()

	set := Evaluate(c, Input{TotalXP: 999})
	assert.True(t, set.Has(XPMilestone(100)))
	assert.True(t, set.Has(XPMilestone(500)))
	assert.False(t, set.Has(XPMilestone(1000)))

	set = Evaluate(c, Input{TotalXP: 1000})
	assert.True(t, set.Has(XPMilestone(1000)))
}

func TestEvaluate_PerfectFlags(t *testing.T) {
	c := DefaultCatalog()
	history := []performance.ScoreSet{
		{Attention: 100, Memory: 80, Speed: 70},
		{Attention: 90, Memory: 100, Speed: 100},
	}

	set := Evaluate(c, Input{History: history})
	assert.True(t, set.Has(PerfectAttention))
	assert.True(t, set.Has(PerfectMemory))
	assert.True(t, set.Has(PerfectSpeed))
	assert.False(t, set.Has(Perfectionist), "perfectionist needs all three in one record")

	history = append(history, performance.ScoreSet{Attention: 100, Memory: 100, Speed: 100})
	assert.True(t, Evaluate(c, Input{History: history}).Has(Perfectionist))
}

func TestEvaluate_Pure(t *testing.T) {
	c := DefaultCatalog()
	in := Input{
		CurrentLessonIndex: 9,
		TotalXP:            640,
		History:            []performance.ScoreSet{{Attention: 100, Memory: 50, Speed: 20}},
	}

	assert.Equal(t, Evaluate(c, in).IDs(), Evaluate(c, in).IDs())
}

func TestEvaluate_MonotonicUnderProgress(t *testing.T) {
	c := DefaultCatalog()
	in := Input{
		CurrentLessonIndex: 7,
		TotalXP:            480,
		History:            []performance.ScoreSet{{Attention: 100, Memory: 40, Speed: 30}},
	}
	before := Evaluate(c, in)

	in.TotalXP = 520
	after := Evaluate(c, in)

	for _, id := range before.IDs() {
		assert.True(t, after.Has(id), "lost %s", id)
	}
	assert.Equal(t, []ID{XPMilestone(500)}, after.Diff(before))
}

func TestCatalog_Statuses(t *testing.T) {
	c := DefaultCatalog()
	set := Evaluate(c, Input{CurrentLessonIndex: 1})

	statuses := c.Statuses(set)
	require.Len(t, statuses, c.Len())
	assert.Equal(t, FirstMission, statuses[0].ID)
	assert.True(t, statuses[0].Earned)
	assert.False(t, statuses[1].Earned)

	// 1 lesson + 4 phases + 5 xp + 4 perfect
	assert.Equal(t, 14, c.Len())
}
