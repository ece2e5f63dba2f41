package query

import (
	"context"
	"fmt"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/reward"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREVIEW SCORES QUERY
// Считает оценки и XP для произвольного журнала событий, ничего не сохраняя.
// Инструмент отладки мини-игр, по умолчанию выключен.
// ══════════════════════════════════════════════════════════════════════════════

// MaxPreviewEvents ограничивает размер журнала в одном запросе.
const MaxPreviewEvents = 1000

// ErrPreviewDisabled - функция выключена флагом.
var ErrPreviewDisabled = shared.NewDomainError("query", "PreviewScores", shared.ErrForbidden, "score preview is disabled")

// PreviewScoresQuery содержит журнал событий.
type PreviewScoresQuery struct {
	// UserID - необязателен, нужен только для флагов.
	UserID string

	Events []performance.Event
}

// Validate проверяет каждое событие.
func (q PreviewScoresQuery) Validate() error {
	if len(q.Events) > MaxPreviewEvents {
		return shared.NewDomainError("query", "PreviewScores", shared.ErrValueOutOfRange,
			fmt.Sprintf("at most %d events per preview", MaxPreviewEvents))
	}
	for i, e := range q.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// PreviewScoresResult - то, что получил бы ученик за такую сессию.
type PreviewScoresResult struct {
	Scores  performance.ScoreSet `json:"scores"`
	XP      int                  `json:"xp"`
	Summary performance.Summary  `json:"summary"`
}

// PreviewScoresHandler обрабатывает PreviewScoresQuery.
type PreviewScoresHandler struct {
	flags *config.FeatureFlags
}

// NewPreviewScoresHandler создаёт обработчик.
func NewPreviewScoresHandler(flags *config.FeatureFlags) *PreviewScoresHandler {
	return &PreviewScoresHandler{flags: flags}
}

// Handle выполняет запрос. Пустой журнал - не ошибка.
func (h *PreviewScoresHandler) Handle(_ context.Context, q PreviewScoresQuery) (*PreviewScoresResult, error) {
	var fc *config.FeatureContext
	if q.UserID != "" {
		fc = config.ForUser(q.UserID)
	}
	if !h.flags.IsEnabled(config.FeatureScorePreview, fc) {
		return nil, ErrPreviewDisabled
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	summary := performance.Summarize(q.Events)
	return &PreviewScoresResult{
		Scores:  summary.Scores,
		XP:      reward.ComputeXP(summary.Scores),
		Summary: summary,
	}, nil
}
