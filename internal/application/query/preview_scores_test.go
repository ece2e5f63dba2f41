package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/reward"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

func previewFlags() *config.FeatureFlags {
	flags := config.LoadFeatureFlags()
	_ = flags.EnableFeature(config.FeatureScorePreview)
	return flags
}

func TestPreviewScores(t *testing.T) {
	h := NewPreviewScoresHandler(previewFlags())

	res, err := h.Handle(context.Background(), PreviewScoresQuery{Events: []performance.Event{
		performance.NewFlipEvent(1),
		performance.NewDecisionEvent(performance.KindMultipleChoice, true, 1.0),
		performance.NewDecisionEvent(performance.KindMultipleChoice, false, 3.0),
	}})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Scores.Attention)
	assert.Equal(t, 3, res.Summary.EventCount)
	assert.Equal(t, 2, res.Summary.DecisionCount)
	assert.Equal(t, 1, res.Summary.CorrectCount)
	assert.Equal(t, res.Scores, res.Summary.Scores)
	assert.Equal(t, reward.ComputeXP(res.Scores), res.XP)
}

func TestPreviewScores_EmptyLog(t *testing.T) {
	res, err := NewPreviewScoresHandler(previewFlags()).Handle(context.Background(), PreviewScoresQuery{})
	require.NoError(t, err)
	assert.Zero(t, res.Summary.EventCount)
	assert.Zero(t, res.Scores.Speed)
	assert.GreaterOrEqual(t, res.XP, 50)
}

func TestPreviewScores_Rejections(t *testing.T) {
	_, err := NewPreviewScoresHandler(nil).Handle(context.Background(), PreviewScoresQuery{})
	assert.ErrorIs(t, err, ErrPreviewDisabled)

	h := NewPreviewScoresHandler(previewFlags())
	_, err = h.Handle(context.Background(), PreviewScoresQuery{Events: []performance.Event{{Kind: "dragDrop"}}})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), PreviewScoresQuery{Events: make([]performance.Event, MaxPreviewEvents+1)})
	assert.True(t, shared.IsValidation(err))
}
