// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/dailyreward"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/observability"
	"github.com/neuroswitch/progression-engine/pkg/logger"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// Главный экран ученика: карта уроков по фазам, достижения,
// ежедневный бонус и "когнитивное ядро" - средние оценки по истории.
//
// Всё вычисляется заново из позиции и истории, ничего производного
// не хранится.
// ══════════════════════════════════════════════════════════════════════════════

// GetDashboardQuery содержит параметры запроса.
type GetDashboardQuery struct {
	// UserID - идентификатор ученика.
	UserID string
}

// Validate проверяет запрос.
func (q GetDashboardQuery) Validate() error {
	return validateUserID("GetDashboard", q.UserID)
}

// GetDashboardResult - данные главного экрана.
type GetDashboardResult struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Прогресс
	// ─────────────────────────────────────────────────────────────────────────

	Position *progression.Position `json:"position"`

	// CurriculumComplete - пройдены все уроки.
	CurriculumComplete bool `json:"curriculumComplete"`

	// Phases - карта уроков.
	Phases []PhaseDTO `json:"phases"`

	// ─────────────────────────────────────────────────────────────────────────
	// Карточки
	// ─────────────────────────────────────────────────────────────────────────

	Achievements     []achievement.Status `json:"achievements"`
	AchievementCount int                  `json:"achievementCount"`
	DailyReward      DailyRewardDTO       `json:"dailyReward"`
	Cognitive        CognitiveDTO         `json:"cognitive"`

	// FromCache - позиция и история прочитаны из кэша.
	FromCache bool `json:"-"`
}

// PhaseDTO - фаза на карте уроков.
type PhaseDTO struct {
	Number    int         `json:"number"`
	Title     string      `json:"title"`
	Completed bool        `json:"completed"`
	Lessons   []LessonDTO `json:"lessons"`
}

// LessonDTO - урок на карте.
type LessonDTO struct {
	Index     int                      `json:"index"`
	ID        string                   `json:"id"`
	Title     string                   `json:"title"`
	StepCount int                      `json:"stepCount"`
	Status    progression.LessonStatus `json:"status"`
}

// DailyRewardDTO - карточка ежедневного бонуса.
type DailyRewardDTO struct {
	Enabled         bool      `json:"enabled"`
	Available       bool      `json:"available"`
	Amount          int       `json:"amount"`
	NextAvailableAt time.Time `json:"nextAvailableAt"`
}

// CognitiveDTO - средние оценки по всей истории и последняя сессия.
type CognitiveDTO struct {
	Average         performance.ScoreSet  `json:"average"`
	Latest          *performance.ScoreSet `json:"latest,omitempty"`
	LessonsRecorded int                   `json:"lessonsRecorded"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache - необязательный кэш позиции и истории.
// Любая ошибка кэша считается промахом.
type ProgressCache interface {
	Position(ctx context.Context, userID string) (*progression.Position, bool, error)
	StorePosition(ctx context.Context, pos *progression.Position) error
	History(ctx context.Context, userID string) ([]performance.ScoreRecord, bool, error)
	StoreHistory(ctx context.Context, userID string, records []performance.ScoreRecord) error
}

// Config - общие настройки query-обработчиков.
type Config struct {
	Clock  timeutil.Clock
	Flags  *config.FeatureFlags
	Logger *logger.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = timeutil.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return c
}

// GetDashboardHandler обрабатывает GetDashboardQuery.
type GetDashboardHandler struct {
	repos      progression.Repositories
	cache      ProgressCache
	curriculum *progression.Curriculum
	catalog    *achievement.Catalog
	policy     dailyreward.Policy
	cfg        Config
	log        *logger.Logger
}

// NewGetDashboardHandler создаёт обработчик. cache может быть nil.
func NewGetDashboardHandler(
	repos progression.Repositories,
	cache ProgressCache,
	curriculum *progression.Curriculum,
	catalog *achievement.Catalog,
	policy dailyreward.Policy,
	cfg Config,
) *GetDashboardHandler {
	cfg = cfg.withDefaults()
	if catalog == nil {
		catalog = achievement.NewCatalog(curriculum.PhaseEnds())
	}
	return &GetDashboardHandler{
		repos:      repos,
		cache:      cache,
		curriculum: curriculum,
		catalog:    catalog,
		policy:     dailyreward.NewPolicy(policy.Amount, policy.Location),
		cfg:        cfg,
		log:        cfg.Logger.With(logger.Component("get_dashboard")),
	}
}

// Handle выполняет запрос.
func (h *GetDashboardHandler) Handle(ctx context.Context, q GetDashboardQuery) (result *GetDashboardResult, err error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "query.GetDashboard", attribute.String("user_id", q.UserID))
	defer func() { observability.EndSpan(span, err) }()

	features := config.ForUser(q.UserID)
	useCache := h.cache != nil && h.cfg.Flags.IsEnabled(config.FeatureScoreCache, features)

	var (
		pos        *progression.Position
		history    []performance.ScoreRecord
		posCached  bool
		histCached bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pos, posCached, err = h.loadPosition(gctx, q.UserID, useCache)
		return err
	})
	g.Go(func() error {
		var err error
		history, histCached, err = h.loadHistory(gctx, q.UserID, useCache)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := h.cfg.Clock.Now()
	result = &GetDashboardResult{
		Position:           pos,
		CurriculumComplete: h.curriculum.IsComplete(pos.CurrentLessonIndex),
		Phases:             h.buildPhases(pos.CurrentLessonIndex),
		Cognitive:          buildCognitive(history),
		FromCache:          posCached && histCached,
	}

	if h.cfg.Flags.IsEnabled(config.FeatureAchievements, features) {
		earned := achievement.Evaluate(h.catalog, achievement.Input{
			CurrentLessonIndex: pos.CurrentLessonIndex,
			TotalXP:            pos.TotalXP,
			History:            performance.ScoreSets(history),
		})
		result.Achievements = h.catalog.Statuses(earned)
		result.AchievementCount = earned.Len()
	}

	result.DailyReward = DailyRewardDTO{
		Enabled:         h.cfg.Flags.IsEnabled(config.FeatureDailyReward, features),
		Amount:          h.policy.Amount,
		NextAvailableAt: h.policy.NextAvailableAt(pos.LastDailyClaim, now),
	}
	result.DailyReward.Available = result.DailyReward.Enabled && h.policy.IsAvailable(pos, now)

	return result, nil
}

// loadPosition читает позицию через кэш, если он включён.
func (h *GetDashboardHandler) loadPosition(ctx context.Context, userID string, useCache bool) (*progression.Position, bool, error) {
	if useCache {
		pos, found, err := h.cache.Position(ctx, userID)
		if err != nil {
			h.log.Debug("position cache unavailable", logger.UserID(userID), logger.Err(err))
		}
		if found {
			return pos, true, nil
		}
	}

	pos, err := h.repos.Positions().Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if useCache {
		if err := h.cache.StorePosition(ctx, pos); err != nil {
			h.log.Debug("failed to cache position", logger.UserID(userID), logger.Err(err))
		}
	}
	return pos, false, nil
}

// loadHistory читает историю оценок через кэш, если он включён.
func (h *GetDashboardHandler) loadHistory(ctx context.Context, userID string, useCache bool) ([]performance.ScoreRecord, bool, error) {
	if useCache {
		records, found, err := h.cache.History(ctx, userID)
		if err != nil {
			h.log.Debug("history cache unavailable", logger.UserID(userID), logger.Err(err))
		}
		if found {
			return records, true, nil
		}
	}

	records, err := h.repos.Scores().History(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("get_dashboard: failed to load history: %w", err)
	}
	if useCache {
		if err := h.cache.StoreHistory(ctx, userID, records); err != nil {
			h.log.Debug("failed to cache history", logger.UserID(userID), logger.Err(err))
		}
	}
	return records, false, nil
}

func (h *GetDashboardHandler) buildPhases(current int) []PhaseDTO {
	lessons := h.curriculum.Lessons()
	return lo.Map(h.curriculum.Phases(), func(p progression.Phase, _ int) PhaseDTO {
		return PhaseDTO{
			Number:    p.Number,
			Title:     p.Title,
			Completed: current >= p.End,
			Lessons: lo.Map(lessons[p.Start:p.End], func(l progression.Lesson, _ int) LessonDTO {
				return LessonDTO{
					Index:     l.Index,
					ID:        l.ID,
					Title:     l.Title,
					StepCount: l.StepCount(),
					Status:    h.curriculum.Status(l.Index, current),
				}
			}),
		}
	})
}

func buildCognitive(history []performance.ScoreRecord) CognitiveDTO {
	sets := performance.ScoreSets(history)
	dto := CognitiveDTO{
		Average:         performance.Average(sets),
		LessonsRecorded: len(sets),
	}
	if n := len(sets); n > 0 {
		latest := sets[n-1]
		dto.Latest = &latest
	}
	return dto
}
