package eventhandler

import (
	"context"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED HANDLER
// Пишет в лог каждое новое достижение. Счётчик метрик увеличивает
// команда, открывшая достижение.
// ═══════════════════════════════════════════════════════════════════════════

// OnAchievementUnlockedHandler обрабатывает AchievementUnlockedEvent.
type OnAchievementUnlockedHandler struct {
	logger *logger.Logger
}

// NewOnAchievementUnlockedHandler создаёт обработчик.
func NewOnAchievementUnlockedHandler(log *logger.Logger) *OnAchievementUnlockedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnAchievementUnlockedHandler{
		logger: log.With(logger.String("handler", "on_achievement_unlocked")),
	}
}

// Handle пишет строку лога.
func (h *OnAchievementUnlockedHandler) Handle(_ context.Context, event shared.Event) error {
	e, ok := event.(shared.AchievementUnlockedEvent)
	if !ok {
		h.logger.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	h.logger.Info("achievement unlocked",
		logger.UserID(e.UserID),
		logger.Achievement(e.AchievementID),
		logger.Time("occurred_at", e.OccurredAt()),
	)
	return nil
}
