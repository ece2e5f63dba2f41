// Package session держит активные сессии уроков в памяти процесса и
// связывает автомат состояний сессии с сохранением итогов урока.
//
// Журнал событий живёт только в памяти: брошенная сессия не оставляет
// следов в хранилище.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuroswitch/progression-engine/internal/application/command"
	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/pkg/logger"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

// Причины закрытия сессии для метрик и событий.
const (
	CloseCompleted = "completed"
	CloseAbandoned = "abandoned"
	CloseExpired   = "expired"
)

// Finalizer сохраняет итог урока. Реализуется command.FinalizeLessonHandler.
type Finalizer interface {
	Handle(ctx context.Context, cmd command.FinalizeLessonCommand) (*command.FinalizeLessonResult, error)
}

// Config - зависимости менеджера, кроме обязательных.
type Config struct {
	Clock     timeutil.Clock
	Publisher shared.EventPublisher
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// AdvanceResult - результат Advance. Finalized заполнен, когда урок
// был сохранён этим вызовом.
type AdvanceResult struct {
	View       progression.SessionView       `json:"session"`
	Transition progression.Transition        `json:"transition"`
	Finalized  *command.FinalizeLessonResult `json:"-"`
}

type entry struct {
	mu      sync.Mutex
	session *progression.Session
	closed  bool
}

// ══════════════════════════════════════════════════════════════════════════════
// MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// Manager - точка входа для UI: открывает сессии, принимает события,
// двигает шаги и финализирует урок. Вызовы одной сессии сериализуются
// её мьютексом; разные сессии не блокируют друг друга.
type Manager struct {
	curriculum *progression.Curriculum
	positions  progression.PositionRepository
	finalizer  Finalizer
	clock      timeutil.Clock
	publisher  shared.EventPublisher
	metrics    *metrics.Metrics
	log        *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewManager creates a session manager.
func NewManager(curriculum *progression.Curriculum, positions progression.PositionRepository, finalizer Finalizer, cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = shared.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Manager{
		curriculum: curriculum,
		positions:  positions,
		finalizer:  finalizer,
		clock:      cfg.Clock,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		log:        cfg.Logger.With(logger.Component("session_manager")),
		sessions:   make(map[string]*entry),
	}
}

// Start открывает сессию урока. Заблокированный урок не открывается;
// пройденные уроки можно проходить повторно.
func (m *Manager) Start(ctx context.Context, userID string, lessonIndex int) (progression.SessionView, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return progression.SessionView{}, err
	}
	lesson, err := m.curriculum.Lesson(lessonIndex)
	if err != nil {
		return progression.SessionView{}, err
	}

	pos, err := m.positions.Get(ctx, id.String())
	if err != nil {
		return progression.SessionView{}, err
	}
	if !m.curriculum.CanStart(lessonIndex, pos.CurrentLessonIndex) {
		return progression.SessionView{}, progression.ErrLessonLocked
	}

	s, err := progression.NewSession(uuid.NewString(), id.String(), lesson, m.clock.Now())
	if err != nil {
		return progression.SessionView{}, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = &entry{session: s}
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.log.Info("lesson session started",
		logger.SessionID(s.ID()),
		logger.UserID(s.UserID()),
		logger.LessonID(lesson.ID),
		logger.LessonIndex(lesson.Index),
		logger.Bool("replay", pos.IsReplay(lessonIndex)),
	)
	return s.View(), nil
}

// ReportEvent добавляет событие мини-игры в журнал сессии.
func (m *Manager) ReportEvent(_ context.Context, sessionID string, event performance.Event) (progression.SessionView, error) {
	return m.mutate(sessionID, func(s *progression.Session) error {
		return s.ReportEvent(event)
	})
}

// ReportStepComplete открывает или закрывает гейт текущего шага.
func (m *Manager) ReportStepComplete(_ context.Context, sessionID string, complete bool) (progression.SessionView, error) {
	return m.mutate(sessionID, func(s *progression.Session) error {
		return s.ReportStepComplete(complete)
	})
}

// Retreat возвращает на предыдущий шаг.
func (m *Manager) Retreat(_ context.Context, sessionID string) (progression.SessionView, error) {
	return m.mutate(sessionID, func(s *progression.Session) error {
		return s.Retreat()
	})
}

// Advance переходит к следующему шагу. На последнем шаге сохраняет итог
// урока; при ошибке сохранения сессия остаётся в finalizing и Advance
// можно повторить.
func (m *Manager) Advance(ctx context.Context, sessionID string) (*AdvanceResult, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	s.Touch(m.clock.Now())

	t, err := s.Advance()
	if err != nil {
		return nil, err
	}
	if !t.Finalize {
		return &AdvanceResult{View: s.View(), Transition: t}, nil
	}

	lesson := s.Lesson()
	res, err := m.finalizer.Handle(ctx, command.FinalizeLessonCommand{
		UserID:      s.UserID(),
		SessionID:   s.ID(),
		LessonIndex: lesson.Index,
		LessonID:    lesson.ID,
		Scores:      t.Outcome.Scores,
		CompletedAt: m.clock.Now(),
	})
	if err != nil {
		_ = s.FailFinalize()
		m.log.Warn("lesson finalize failed, session kept for retry",
			logger.SessionID(s.ID()),
			logger.UserID(s.UserID()),
			logger.Bool("retry", t.Retry),
			logger.Err(err),
		)
		return nil, err
	}
	if err := s.CompleteFinalize(); err != nil {
		return nil, err
	}

	e.closed = true
	m.metrics.SessionClosed(CloseCompleted)
	return &AdvanceResult{View: s.View(), Transition: t, Finalized: res}, nil
}

// Abandon закрывает сессию без сохранения. Для уже завершённой сессии
// только освобождает память.
func (m *Manager) Abandon(_ context.Context, sessionID, reason string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if reason == "" {
		reason = CloseAbandoned
	}
	m.remove(sessionID, e, reason)
	return nil
}

// Get возвращает снимок сессии.
func (m *Manager) Get(_ context.Context, sessionID string) (progression.SessionView, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return progression.SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.View(), nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ReapIdle закрывает сессии без активности дольше olderThan и возвращает
// их количество. Занятые в этот момент сессии пропускаются.
func (m *Manager) ReapIdle(ctx context.Context, olderThan time.Duration) int {
	cutoff := m.clock.Now().Add(-olderThan)

	m.mu.RLock()
	candidates := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		candidates[id] = e
	}
	m.mu.RUnlock()

	reaped := 0
	for id, e := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !e.mu.TryLock() {
			continue
		}
		if e.session.LastActivity().Before(cutoff) {
			m.remove(id, e, CloseExpired)
			reaped++
		}
		e.mu.Unlock()
	}

	if reaped > 0 {
		m.log.Info("reaped idle sessions",
			logger.Int("count", reaped),
			logger.Duration("idle", olderThan),
		)
	}
	return reaped
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, progression.ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) mutate(sessionID string, fn func(s *progression.Session) error) (progression.SessionView, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return progression.SessionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.Touch(m.clock.Now())
	if err := fn(e.session); err != nil {
		return progression.SessionView{}, err
	}
	return e.session.View(), nil
}

// remove drops the session; the caller holds e.mu.
func (m *Manager) remove(sessionID string, e *entry, reason string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	s := e.session
	m.metrics.SessionClosed(reason)
	m.log.Info("lesson session discarded",
		logger.SessionID(s.ID()),
		logger.UserID(s.UserID()),
		logger.StepIndex(s.Step()),
		logger.String("reason", reason),
	)
	event := shared.NewSessionAbandonedEvent(s.ID(), s.UserID(), s.Lesson().Index, s.Step(), len(s.Events()), reason)
	if err := m.publisher.Publish(event); err != nil {
		m.log.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
