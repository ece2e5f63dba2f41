package progression

import (
	"strings"
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/reward"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние сессии урока.
type State string

const (
	StateInProgress State = "in_progress"
	StateFinalizing State = "finalizing"
	StateResults    State = "results"
)

// Outcome - результат сессии, вычисляется один раз при входе в финализацию
// и сохраняется для повторных попыток.
type Outcome struct {
	Scores  performance.ScoreSet `json:"scores"`
	XP      int                  `json:"xp"`
	Summary performance.Summary  `json:"summary"`
}

// Transition описывает результат успешного Advance.
type Transition struct {
	FromStep int `json:"fromStep"`
	ToStep   int `json:"toStep"`

	// Finalize - вызывающий должен сохранить Outcome и затем вызвать
	// CompleteFinalize или FailFinalize.
	Finalize bool `json:"finalize"`

	// Retry - повторная попытка после неудачной финализации.
	Retry bool `json:"retry"`

	Outcome *Outcome `json:"outcome,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session - одна попытка прохождения урока. Не потокобезопасна:
// владелец сериализует вызовы.
type Session struct {
	id        string
	userID    string
	lesson    Lesson
	step      int
	gate      bool
	log       *performance.Log
	state     State
	inFlight  bool
	outcome   *Outcome
	startedAt time.Time
	touchedAt time.Time
}

// NewSession открывает сессию на шаге 0 с закрытым гейтом.
func NewSession(id, userID string, lesson Lesson, now time.Time) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, shared.NewDomainError(domainName, "NewSession", shared.ErrInvalidID, "session id is required")
	}
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}
	if lesson.StepCount() == 0 {
		return nil, ErrEmptyLesson
	}
	return &Session{
		id:        id,
		userID:    strings.TrimSpace(userID),
		lesson:    lesson,
		log:       performance.NewLog(),
		state:     StateInProgress,
		startedAt: now,
		touchedAt: now,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owner.
func (s *Session) UserID() string { return s.userID }

// Lesson returns the lesson being played.
func (s *Session) Lesson() Lesson { return s.lesson }

// Step returns the current 0-based step index.
func (s *Session) Step() int { return s.step }

// StepComplete returns the gate of the current step.
func (s *Session) StepComplete() bool { return s.gate }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// InFlight reports whether a finalize attempt is running.
func (s *Session) InFlight() bool { return s.inFlight }

// Outcome returns the retained outcome, nil before finalization.
func (s *Session) Outcome() *Outcome { return s.outcome }

// Events returns a copy of the event log.
func (s *Session) Events() []performance.Event { return s.log.Events() }

// StartedAt returns the creation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// LastActivity returns the time of the last Touch.
func (s *Session) LastActivity() time.Time { return s.touchedAt }

// Touch records activity for idle reaping.
func (s *Session) Touch(now time.Time) {
	s.touchedAt = now
}

func (s *Session) isFinalStep() bool {
	return s.step == s.lesson.StepCount()-1
}

// ReportEvent добавляет событие мини-игры в журнал.
func (s *Session) ReportEvent(e performance.Event) error {
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	return s.log.Append(e)
}

// ReportStepComplete выставляет гейт текущего шага.
func (s *Session) ReportStepComplete(complete bool) error {
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	s.gate = complete
	return nil
}

// Advance переходит к следующему шагу или запускает финализацию.
// При ошибке состояние не меняется.
func (s *Session) Advance() (Transition, error) {
	switch s.state {
	case StateResults:
		return Transition{}, ErrSessionFinished
	case StateFinalizing:
		if s.inFlight {
			return Transition{}, ErrFinalizeInFlight
		}
		// предыдущая попытка сохранения не удалась
		s.inFlight = true
		return Transition{
			FromStep: s.step,
			ToStep:   s.step,
			Finalize: true,
			Retry:    true,
			Outcome:  s.outcome,
		}, nil
	}

	if !s.isFinalStep() {
		if !s.gate {
			return Transition{}, ErrGateClosed
		}
		from := s.step
		s.step++
		s.gate = false
		return Transition{FromStep: from, ToStep: s.step}, nil
	}

	summary := performance.Summarize(s.log.Events())
	s.outcome = &Outcome{
		Scores:  summary.Scores,
		XP:      reward.ComputeXP(summary.Scores),
		Summary: summary,
	}
	s.state = StateFinalizing
	s.inFlight = true

	return Transition{
		FromStep: s.step,
		ToStep:   s.step,
		Finalize: true,
		Outcome:  s.outcome,
	}, nil
}

// Retreat возвращает на предыдущий шаг. Гейт открыт для шагов-викторин
// и закрыт для шагов, которые нужно пройти заново.
func (s *Session) Retreat() error {
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	if s.step == 0 {
		return ErrAtFirstStep
	}
	s.step--
	s.gate = !s.lesson.Steps[s.step].RequiresTraversal()
	return nil
}

// CompleteFinalize фиксирует успешное сохранение и переводит в results.
func (s *Session) CompleteFinalize() error {
	if s.state != StateFinalizing || !s.inFlight {
		return ErrNotFinalizing
	}
	s.inFlight = false
	s.state = StateResults
	return nil
}

// FailFinalize снимает флаг in-flight; Outcome остаётся для повтора.
func (s *Session) FailFinalize() error {
	if s.state != StateFinalizing || !s.inFlight {
		return ErrNotFinalizing
	}
	s.inFlight = false
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VIEW
// ══════════════════════════════════════════════════════════════════════════════

// SessionView - снимок сессии для внешнего слоя.
type SessionView struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	LessonID     string           `json:"lessonId"`
	LessonIndex  int              `json:"lessonIndex"`
	Step         int              `json:"step"`
	StepCount    int              `json:"stepCount"`
	StepKind     performance.Kind `json:"stepKind"`
	StepComplete bool             `json:"stepComplete"`
	State        State            `json:"state"`
	InFlight     bool             `json:"inFlight"`
	EventCount   int              `json:"eventCount"`
	Outcome      *Outcome         `json:"outcome,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
}

// View returns a snapshot safe to hand out.
func (s *Session) View() SessionView {
	v := SessionView{
		ID:           s.id,
		UserID:       s.userID,
		LessonID:     s.lesson.ID,
		LessonIndex:  s.lesson.Index,
		Step:         s.step,
		StepCount:    s.lesson.StepCount(),
		StepKind:     s.lesson.Steps[s.step],
		StepComplete: s.gate,
		State:        s.state,
		InFlight:     s.inFlight,
		EventCount:   s.log.Len(),
		StartedAt:    s.startedAt,
	}
	if s.outcome != nil {
		o := *s.outcome
		v.Outcome = &o
	}
	return v
}
