package progression

import "github.com/neuroswitch/progression-engine/internal/domain/shared"

const domainName = "progression"

var (
	// ErrGateClosed - попытка перейти дальше, пока шаг не завершён.
	ErrGateClosed = shared.NewDomainError(domainName, "Advance", shared.ErrStateTransition, "current step is not complete")

	// ErrFinalizeInFlight - финализация уже выполняется.
	ErrFinalizeInFlight = shared.NewDomainError(domainName, "Advance", shared.ErrInFlight, "lesson finalize already in flight")

	// ErrSessionFinished - сессия уже в состоянии results.
	ErrSessionFinished = shared.NewDomainError(domainName, "Advance", shared.ErrInvalidState, "session already finished")

	// ErrNotInProgress - операция допустима только во время прохождения шагов.
	ErrNotInProgress = shared.NewDomainError(domainName, "Session", shared.ErrInvalidState, "session is not in progress")

	// ErrAtFirstStep - возврат с первого шага невозможен.
	ErrAtFirstStep = shared.NewDomainError(domainName, "Retreat", shared.ErrStateTransition, "already at the first step")

	// ErrNotFinalizing - CompleteFinalize/FailFinalize вне финализации.
	ErrNotFinalizing = shared.NewDomainError(domainName, "Finalize", shared.ErrInvalidState, "session is not finalizing")

	// ErrEmptyLesson - урок без шагов.
	ErrEmptyLesson = shared.NewDomainError(domainName, "NewSession", shared.ErrValidation, "lesson has no steps")

	// ErrLessonNotFound - индекс вне учебного плана.
	ErrLessonNotFound = shared.NewDomainError(domainName, "Lesson", shared.ErrNotFound, "lesson not found")

	// ErrLessonLocked - урок ещё не открыт.
	ErrLessonLocked = shared.NewDomainError(domainName, "Start", shared.ErrForbidden, "lesson is locked")

	// ErrPositionNotFound - позиция ученика не создана.
	ErrPositionNotFound = shared.NewDomainError(domainName, "Position", shared.ErrNotFound, "curriculum position not found")

	// ErrSessionNotFound - сессия не найдена или уже завершена.
	ErrSessionNotFound = shared.NewDomainError(domainName, "Session", shared.ErrNotFound, "session not found")

	// ErrInvalidCurriculum - некорректное описание учебного плана.
	ErrInvalidCurriculum = shared.NewDomainError(domainName, "Curriculum", shared.ErrValidation, "invalid curriculum")
)
