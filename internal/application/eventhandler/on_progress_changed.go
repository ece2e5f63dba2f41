// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Сбрасывает кэш позиции и истории ученика после любого изменения:
// завершённого урока или полученного бонуса.
//
// Кэш только ускоряет чтение главного экрана, поэтому ошибка здесь
// не влияет на уже сохранённый прогресс. Диспетчер повторяет вызов,
// а до истечения TTL экран может показывать старые данные.
// ═══════════════════════════════════════════════════════════════════════════

// CacheInvalidator удаляет закэшированные данные ученика.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// OnProgressChangedHandler обрабатывает события изменения прогресса.
type OnProgressChangedHandler struct {
	cache  CacheInvalidator
	logger *logger.Logger
}

// NewOnProgressChangedHandler создаёт обработчик.
func NewOnProgressChangedHandler(cache CacheInvalidator, log *logger.Logger) *OnProgressChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnProgressChangedHandler{
		cache:  cache,
		logger: log.With(logger.String("handler", "on_progress_changed")),
	}
}

// EventTypes - события, на которые подписывается обработчик.
func (h *OnProgressChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventLessonCompleted,
		shared.EventDailyRewardClaimed,
	}
}

// Handle сбрасывает кэш ученика, которому принадлежит событие.
func (h *OnProgressChangedHandler) Handle(ctx context.Context, event shared.Event) error {
	var userID string
	switch e := event.(type) {
	case shared.LessonCompletedEvent:
		userID = e.UserID
	case shared.DailyRewardClaimedEvent:
		userID = e.UserID
	default:
		h.logger.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	if err := h.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("invalidate progress cache: %w", err)
	}

	h.logger.Debug("progress cache invalidated",
		logger.UserID(userID),
		logger.String("event_type", string(event.EventType())),
	)
	return nil
}
