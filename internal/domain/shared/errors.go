// Package shared содержит общие для доменных пакетов типы: ошибки, события
// и объекты-значения. Внешних зависимостей у пакета нет.
package shared

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ВИДЫ ОШИБОК
// ══════════════════════════════════════════════════════════════════════════════

// Виды ошибок. Доменные ошибки ссылаются на один из них в поле Kind,
// снаружи их различают через errors.Is и хелперы ниже.
var (
	// Сущность
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Входные данные
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Состояние сессии и прогресса
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrInFlight         = errors.New("operation already in flight")

	// Доступ к урокам
	ErrForbidden = errors.New("forbidden")

	// Инфраструктура
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

var (
	validationKinds = []error{ErrValidation, ErrInvalidID, ErrInvalidInput, ErrNegativeValue, ErrValueOutOfRange}
	conflictKinds   = []error{ErrInvalidState, ErrStateTransition, ErrAlreadyProcessed, ErrInFlight}
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR
// ══════════════════════════════════════════════════════════════════════════════

// DomainError - ошибка бизнес-правила с контекстом: пакет, операция, вид.
type DomainError struct {
	Domain  string // "progression", "dailyreward", "performance", ...
	Op      string // "Advance", "Claim", ...
	Kind    error  // один из видов выше
	Message string
	Err     error // причина, если есть
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError создаёт доменную ошибку.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError создаёт доменную ошибку с причиной.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Ошибки ученика.
var (
	ErrLearnerNotFound = NewDomainError("learner", "Find", ErrNotFound, "learner position not found")
	ErrInvalidUserID   = NewDomainError("learner", "Validate", ErrInvalidID, "invalid user ID")
)

// ══════════════════════════════════════════════════════════════════════════════
// КЛАССИФИКАЦИЯ
// ══════════════════════════════════════════════════════════════════════════════

func isAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// IsNotFound - сущность не найдена.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists - сущность уже создана.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation - вход отклонён до любых изменений.
func IsValidation(err error) bool {
	return isAny(err, validationKinds)
}

// IsStateConflict - операция не разрешена в текущем состоянии
// сессии или уже выполнена.
func IsStateConflict(err error) bool {
	return isAny(err, conflictKinds)
}

// IsDomain сообщает, есть ли в цепочке DomainError. Такие ошибки
// не повторяются: повтор даст тот же отказ.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
