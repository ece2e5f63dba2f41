package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/dailyreward"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/observability"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM DAILY REWARD COMMAND
// Начисляет ежедневный бонус не чаще одного раза за календарный день.
// Повторная попытка в тот же день - не ошибка: Claimed=false.
// ══════════════════════════════════════════════════════════════════════════════

// ErrDailyRewardDisabled is returned when the feature is switched off.
var ErrDailyRewardDisabled = shared.NewDomainError("command", "ClaimDailyReward", shared.ErrForbidden, "daily reward is disabled")

// Daily claim results as reported to metrics.
const (
	ClaimResultClaimed        = "claimed"
	ClaimResultAlreadyClaimed = "already_claimed"
	ClaimResultError          = "error"
)

// ClaimDailyRewardCommand contains the data to claim the daily reward.
type ClaimDailyRewardCommand struct {
	UserID string `validate:"required,user_id"`
}

// Validate validates the command.
func (c ClaimDailyRewardCommand) Validate() error {
	return validateStruct("ClaimDailyReward", c)
}

// ClaimDailyRewardResult contains the result of the claim.
type ClaimDailyRewardResult struct {
	Claimed  bool
	Amount   int
	Position *progression.Position

	// NextAvailableAt is the start of the next calendar day in the policy zone.
	NextAvailableAt time.Time

	NewAchievements []achievement.ID
	Events          []shared.Event
}

// ClaimDailyRewardHandler handles the ClaimDailyRewardCommand.
type ClaimDailyRewardHandler struct {
	store     progression.Store
	policy    dailyreward.Policy
	catalog   *achievement.Catalog
	publisher shared.EventPublisher
	cfg       HandlerConfig
	log       *logger.Logger
}

// NewClaimDailyRewardHandler creates a new ClaimDailyRewardHandler.
func NewClaimDailyRewardHandler(
	store progression.Store,
	policy dailyreward.Policy,
	catalog *achievement.Catalog,
	publisher shared.EventPublisher,
	cfg HandlerConfig,
) *ClaimDailyRewardHandler {
	cfg = cfg.withDefaults()
	if catalog == nil {
		catalog = achievement.DefaultCatalog()
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &ClaimDailyRewardHandler{
		store:     store,
		policy:    dailyreward.NewPolicy(policy.Amount, policy.Location),
		catalog:   catalog,
		publisher: publisher,
		cfg:       cfg,
		log:       cfg.Logger.With(logger.Component("claim_daily_reward")),
	}
}

// Handle executes the claim daily reward command.
func (h *ClaimDailyRewardHandler) Handle(ctx context.Context, cmd ClaimDailyRewardCommand) (result *ClaimDailyRewardResult, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	features := config.ForUser(cmd.UserID)
	if !h.cfg.Flags.IsEnabled(config.FeatureDailyReward, features) {
		return nil, ErrDailyRewardDisabled
	}
	withAchievements := h.cfg.Flags.IsEnabled(config.FeatureAchievements, features)

	ctx, span := observability.StartSpan(ctx, "command.ClaimDailyReward",
		attribute.String("user_id", cmd.UserID),
	)
	defer func() { observability.EndSpan(span, err) }()

	now := h.cfg.Clock.Now().UTC()

	err = h.cfg.storeRetry("claim_daily_reward", h.log).Do(ctx, func(ctx context.Context) error {
		return h.store.Atomically(ctx, func(ctx context.Context, repos progression.Repositories) error {
			res, err := h.apply(ctx, repos, cmd.UserID, now, withAchievements)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		h.cfg.Metrics.DailyClaim(ClaimResultError)
		if shared.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("claim_daily_reward: %w", err)
	}

	if !result.Claimed {
		h.cfg.Metrics.DailyClaim(ClaimResultAlreadyClaimed)
		h.log.Debug("daily reward already claimed",
			logger.UserID(cmd.UserID),
			logger.Time("next_available_at", result.NextAvailableAt),
		)
		return result, nil
	}

	userID := result.Position.UserID
	result.Events = []shared.Event{
		shared.NewDailyRewardClaimedEvent(userID, result.Amount, result.Position.TotalXP, now),
		shared.NewXPGainedEvent(userID, result.Amount, result.Position.TotalXP, shared.XPSourceDailyReward),
	}
	for _, id := range result.NewAchievements {
		result.Events = append(result.Events, shared.NewAchievementUnlockedEvent(userID, string(id)))
		h.cfg.Metrics.AchievementUnlocked(string(id))
	}

	h.cfg.Metrics.DailyClaim(ClaimResultClaimed)
	h.cfg.Metrics.XPAwarded(shared.XPSourceDailyReward, result.Amount)
	publishAll(h.publisher, h.log, result.Events)

	h.log.Info("daily reward claimed",
		logger.UserID(userID),
		logger.XPAmount(result.Amount),
		logger.Int("total_xp", result.Position.TotalXP),
	)
	return result, nil
}

func (h *ClaimDailyRewardHandler) apply(
	ctx context.Context,
	repos progression.Repositories,
	userID string,
	now time.Time,
	withAchievements bool,
) (*ClaimDailyRewardResult, error) {
	pos, err := repos.Positions().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := pos.Clone()

	claim, err := h.policy.Claim(pos, now)
	if errors.Is(err, dailyreward.ErrAlreadyClaimed) {
		return &ClaimDailyRewardResult{
			Position:        before,
			NextAvailableAt: h.policy.NextAvailableAt(before.LastDailyClaim, now),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// Позиция изменена в памяти политикой; в хранилище пишем теми же шагами.
	total, err := repos.Positions().AddXP(ctx, userID, claim.Amount)
	if err != nil {
		return nil, err
	}
	if err := repos.Positions().SetLastDailyClaim(ctx, userID, claim.ClaimedAt); err != nil {
		return nil, err
	}
	pos.TotalXP = total
	pos.UpdatedAt = now

	result := &ClaimDailyRewardResult{
		Claimed:         true,
		Amount:          claim.Amount,
		Position:        pos,
		NextAvailableAt: h.policy.NextAvailableAt(pos.LastDailyClaim, now),
	}

	if withAchievements {
		history, err := repos.Scores().History(ctx, userID)
		if err != nil {
			return nil, err
		}
		prev := earnedAchievements(h.catalog, before, history)
		result.NewAchievements = earnedAchievements(h.catalog, pos, history).Diff(prev)
	}
	return result, nil
}
