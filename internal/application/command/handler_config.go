package command

import (
	"context"
	"errors"
	"time"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/pkg/logger"
	"github.com/neuroswitch/progression-engine/pkg/retry"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER CONFIG
// Общие настройки command-обработчиков: повтор транзакций, часы,
// feature flags, метрики и логгер.
// ══════════════════════════════════════════════════════════════════════════════

// HandlerConfig contains configuration shared by the command handlers.
type HandlerConfig struct {
	// StoreAttempts bounds store transaction attempts, including the first.
	StoreAttempts int

	// StoreInitialDelay is the first backoff between attempts.
	StoreInitialDelay time.Duration

	Clock   timeutil.Clock
	Flags   *config.FeatureFlags
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// DefaultHandlerConfig returns default configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		StoreAttempts:     3,
		StoreInitialDelay: 50 * time.Millisecond,
		Clock:             timeutil.SystemClock{},
		Logger:            logger.Nop(),
	}
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	def := DefaultHandlerConfig()
	if c.StoreAttempts <= 0 {
		c.StoreAttempts = def.StoreAttempts
	}
	if c.StoreInitialDelay <= 0 {
		c.StoreInitialDelay = def.StoreInitialDelay
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return c
}

// storeRetry retries a store transaction on infrastructure failures only.
func (c HandlerConfig) storeRetry(operation string, log *logger.Logger) retry.Policy {
	policy := retry.ForStore(c.StoreAttempts, c.StoreInitialDelay, isTransient)
	policy.OnRetry = func(a retry.Attempt) {
		c.Metrics.StoreRetry(operation)
		log.Warn("store transaction failed, retrying",
			logger.Operation(operation),
			logger.Int("attempt", a.Number),
			logger.Duration("backoff", a.Backoff),
			logger.Err(a.Err),
		)
	}
	return policy
}

// isTransient reports whether a failed transaction may succeed on retry.
func isTransient(err error) bool {
	if shared.IsDomain(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// earnedAchievements evaluates the catalog against a position and its history.
func earnedAchievements(catalog *achievement.Catalog, pos *progression.Position, history []performance.ScoreRecord) achievement.Set {
	return achievement.Evaluate(catalog, achievement.Input{
		CurrentLessonIndex: pos.CurrentLessonIndex,
		TotalXP:            pos.TotalXP,
		History:            performance.ScoreSets(history),
	})
}

// publishAll publishes events after commit. A failed publish is logged:
// the state change is already durable.
func publishAll(pub shared.EventPublisher, log *logger.Logger, events []shared.Event) {
	for _, e := range events {
		if err := pub.Publish(e); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
}
