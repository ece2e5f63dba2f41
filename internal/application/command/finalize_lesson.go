package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/reward"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/observability"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINALIZE LESSON COMMAND
// Сохраняет итог урока: запись оценок, XP и сдвиг позиции - в одной
// транзакции. Повтор для той же сессии ничего не меняет.
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeLessonCommand contains the outcome of a finished lesson session.
type FinalizeLessonCommand struct {
	UserID    string `validate:"required,user_id"`
	SessionID string `validate:"required,max=128"`

	// LessonIndex is the global curriculum index of the lesson.
	LessonIndex int `validate:"gte=0"`

	// LessonID is optional; when set it must match the lesson at LessonIndex.
	LessonID string `validate:"omitempty,max=128"`

	Scores performance.ScoreSet

	// CompletedAt defaults to the handler clock.
	CompletedAt time.Time
}

// Validate validates the command.
func (c FinalizeLessonCommand) Validate() error {
	return validateStruct("FinalizeLesson", c)
}

// FinalizeLessonResult contains the result of the finalize.
type FinalizeLessonResult struct {
	// AlreadyApplied is true when the session had been recorded before.
	// Nothing was changed and the stored record is returned.
	AlreadyApplied bool

	Record    *performance.ScoreRecord
	Position  *progression.Position
	XPAwarded int

	// Replay is true when the lesson had been completed before.
	Replay bool

	// Unlocked is true when the next lesson was opened.
	Unlocked bool

	NewAchievements []achievement.ID

	Events []shared.Event
}

// FinalizeLessonHandler handles the FinalizeLessonCommand.
type FinalizeLessonHandler struct {
	store      progression.Store
	curriculum *progression.Curriculum
	catalog    *achievement.Catalog
	publisher  shared.EventPublisher
	cfg        HandlerConfig
	log        *logger.Logger
}

// NewFinalizeLessonHandler creates a new FinalizeLessonHandler.
func NewFinalizeLessonHandler(
	store progression.Store,
	curriculum *progression.Curriculum,
	catalog *achievement.Catalog,
	publisher shared.EventPublisher,
	cfg HandlerConfig,
) *FinalizeLessonHandler {
	cfg = cfg.withDefaults()
	if catalog == nil {
		catalog = achievement.NewCatalog(curriculum.PhaseEnds())
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &FinalizeLessonHandler{
		store:      store,
		curriculum: curriculum,
		catalog:    catalog,
		publisher:  publisher,
		cfg:        cfg,
		log:        cfg.Logger.With(logger.Component("finalize_lesson")),
	}
}

// Handle executes the finalize lesson command.
func (h *FinalizeLessonHandler) Handle(ctx context.Context, cmd FinalizeLessonCommand) (result *FinalizeLessonResult, err error) {
	started := time.Now()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	lesson, err := h.curriculum.Lesson(cmd.LessonIndex)
	if err != nil {
		return nil, err
	}
	if cmd.LessonID != "" && cmd.LessonID != lesson.ID {
		return nil, shared.NewDomainError("command", "FinalizeLesson", shared.ErrValidation,
			fmt.Sprintf("lesson %q is not at index %d", cmd.LessonID, cmd.LessonIndex))
	}

	completedAt := cmd.CompletedAt
	if completedAt.IsZero() {
		completedAt = h.cfg.Clock.Now()
	}
	completedAt = completedAt.UTC()

	ctx, span := observability.StartSpan(ctx, "command.FinalizeLesson",
		attribute.String("user_id", cmd.UserID),
		attribute.String("session_id", cmd.SessionID),
		attribute.Int("lesson_index", cmd.LessonIndex),
	)
	defer func() {
		observability.EndSpan(span, err)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		h.cfg.Metrics.FinalizeObserved(outcome, time.Since(started))
	}()

	scores := cmd.Scores.Clamp()
	xp := reward.ComputeXP(scores)
	withAchievements := h.cfg.Flags.IsEnabled(config.FeatureAchievements, config.ForUser(cmd.UserID))

	err = h.cfg.storeRetry("finalize_lesson", h.log).Do(ctx, func(ctx context.Context) error {
		return h.store.Atomically(ctx, func(ctx context.Context, repos progression.Repositories) error {
			res, err := h.apply(ctx, repos, cmd, lesson, scores, xp, completedAt, withAchievements)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		h.log.Error("lesson finalize failed",
			logger.UserID(cmd.UserID),
			logger.SessionID(cmd.SessionID),
			logger.LessonIndex(cmd.LessonIndex),
			logger.Err(err),
		)
		if shared.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("finalize_lesson: %w", err)
	}

	if result.AlreadyApplied {
		h.log.Info("lesson already finalized",
			logger.UserID(cmd.UserID),
			logger.SessionID(cmd.SessionID),
		)
		return result, nil
	}

	result.Events = h.events(cmd, lesson, result)
	h.record(result)
	publishAll(h.publisher, h.log, result.Events)

	h.log.Info("lesson finalized",
		logger.UserID(cmd.UserID),
		logger.SessionID(cmd.SessionID),
		logger.LessonID(lesson.ID),
		logger.LessonIndex(lesson.Index),
		logger.XPAmount(result.XPAwarded),
		logger.Bool("replay", result.Replay),
		logger.Int("new_achievements", len(result.NewAchievements)),
	)
	return result, nil
}

// apply runs inside the transaction. It may run more than once.
func (h *FinalizeLessonHandler) apply(
	ctx context.Context,
	repos progression.Repositories,
	cmd FinalizeLessonCommand,
	lesson progression.Lesson,
	scores performance.ScoreSet,
	xp int,
	completedAt time.Time,
	withAchievements bool,
) (*FinalizeLessonResult, error) {
	pos, err := repos.Positions().GetForUpdate(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}

	rec := &performance.ScoreRecord{
		ID:          uuid.NewString(),
		UserID:      pos.UserID,
		LessonID:    lesson.ID,
		LessonIndex: lesson.Index,
		SessionID:   cmd.SessionID,
		Scores:      scores,
		XP:          xp,
		CompletedAt: completedAt,
	}

	// Идемпотентность: сессия уже сохранена - ничего не меняем.
	if existing, err := repos.Scores().BySession(ctx, cmd.SessionID); err == nil {
		return &FinalizeLessonResult{AlreadyApplied: true, Record: existing, Position: pos}, nil
	} else if !errors.Is(err, progression.ErrScoreNotFound) {
		return nil, err
	}

	if !h.curriculum.CanStart(lesson.Index, pos.CurrentLessonIndex) {
		return nil, progression.ErrLessonLocked
	}

	history, err := repos.Scores().History(ctx, pos.UserID)
	if err != nil {
		return nil, err
	}

	if err := repos.Scores().Save(ctx, rec); err != nil {
		if errors.Is(err, progression.ErrScoreAlreadyRecorded) {
			existing, err := repos.Scores().BySession(ctx, cmd.SessionID)
			if err != nil {
				return nil, err
			}
			return &FinalizeLessonResult{AlreadyApplied: true, Record: existing, Position: pos}, nil
		}
		return nil, err
	}

	before := pos.Clone()
	replay := pos.IsReplay(lesson.Index)

	total, err := repos.Positions().AddXP(ctx, pos.UserID, xp)
	if err != nil {
		return nil, err
	}
	pos.TotalXP = total

	next := progression.NextLessonIndex(lesson.Index)
	unlocked, err := repos.Positions().SetCurrentLessonIndex(ctx, pos.UserID, next)
	if err != nil {
		return nil, err
	}
	if unlocked {
		pos.CurrentLessonIndex = next
	}
	pos.UpdatedAt = completedAt

	result := &FinalizeLessonResult{
		Record:    rec,
		Position:  pos,
		XPAwarded: xp,
		Replay:    replay,
		Unlocked:  unlocked,
	}
	if withAchievements {
		prev := earnedAchievements(h.catalog, before, history)
		now := earnedAchievements(h.catalog, pos, append(history, *rec))
		result.NewAchievements = now.Diff(prev)
	}
	return result, nil
}

func (h *FinalizeLessonHandler) events(cmd FinalizeLessonCommand, lesson progression.Lesson, r *FinalizeLessonResult) []shared.Event {
	s := r.Record.Scores
	events := []shared.Event{
		shared.NewLessonCompletedEvent(r.Position.UserID, cmd.SessionID, lesson.ID, lesson.Index,
			s.Attention, s.Memory, s.Speed, r.XPAwarded, r.Replay),
		shared.NewXPGainedEvent(r.Position.UserID, r.XPAwarded, r.Position.TotalXP, shared.XPSourceLesson),
	}
	if r.Unlocked {
		events = append(events, shared.NewLessonUnlockedEvent(r.Position.UserID, lesson.Index, r.Position.CurrentLessonIndex))
	}
	for _, id := range r.NewAchievements {
		events = append(events, shared.NewAchievementUnlockedEvent(r.Position.UserID, string(id)))
	}
	return events
}

func (h *FinalizeLessonHandler) record(r *FinalizeLessonResult) {
	s := r.Record.Scores
	h.cfg.Metrics.LessonCompleted(r.Replay, s.Attention, s.Memory, s.Speed)
	h.cfg.Metrics.XPAwarded(shared.XPSourceLesson, r.XPAwarded)
	for _, id := range r.NewAchievements {
		h.cfg.Metrics.AchievementUnlocked(string(id))
	}
}
