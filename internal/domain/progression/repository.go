package progression

import (
	"context"
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт исходящего хранилища. Каждая операция - одна запись,
// успех или ошибка, без частичных изменений.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrPositionExists - позиция ученика уже создана.
	ErrPositionExists = shared.NewDomainError(domainName, "CreatePosition", shared.ErrAlreadyExists, "curriculum position already exists")

	// ErrScoreAlreadyRecorded - запись для этой сессии уже сохранена.
	ErrScoreAlreadyRecorded = shared.NewDomainError(domainName, "SaveScore", shared.ErrAlreadyProcessed, "score record for session already exists")

	// ErrScoreNotFound - записи для сессии нет.
	ErrScoreNotFound = shared.NewDomainError(domainName, "BySession", shared.ErrNotFound, "score record not found")
)

// PositionRepository хранит Position.
type PositionRepository interface {
	// Get возвращает позицию ученика.
	// Возвращает ErrPositionNotFound, если позиции нет.
	Get(ctx context.Context, userID string) (*Position, error)

	// GetForUpdate как Get, но блокирует строку до конца транзакции.
	// Вне Atomically ведёт себя как Get.
	GetForUpdate(ctx context.Context, userID string) (*Position, error)

	// Create сохраняет новую позицию.
	// Возвращает ErrPositionExists при повторном создании.
	Create(ctx context.Context, pos *Position) error

	// SetCurrentLessonIndex выставляет индекс, только если он больше текущего.
	// Возвращает true, если индекс изменился.
	SetCurrentLessonIndex(ctx context.Context, userID string, index int) (bool, error)

	// AddXP прибавляет amount к TotalXP и возвращает новый итог.
	AddXP(ctx context.Context, userID string, amount int) (int, error)

	// SetLastDailyClaim записывает время получения ежедневного бонуса.
	SetLastDailyClaim(ctx context.Context, userID string, at time.Time) error
}

// ScoreRepository хранит историю оценок.
type ScoreRepository interface {
	// Save сохраняет запись. SessionID уникален: повтор возвращает
	// ErrScoreAlreadyRecorded и ничего не меняет.
	Save(ctx context.Context, rec *performance.ScoreRecord) error

	// BySession возвращает запись по идентификатору сессии.
	// Возвращает ErrScoreNotFound, если записи нет.
	BySession(ctx context.Context, sessionID string) (*performance.ScoreRecord, error)

	// History возвращает все записи ученика от старых к новым.
	History(ctx context.Context, userID string) ([]performance.ScoreRecord, error)
}

// Repositories группирует репозитории одного хранилища.
type Repositories interface {
	Positions() PositionRepository
	Scores() ScoreRepository
}

// Store - хранилище с поддержкой транзакций.
type Store interface {
	Repositories

	// Atomically выполняет fn в одной транзакции. Репозитории, переданные
	// в fn, привязаны к транзакции. Ошибка fn откатывает все изменения.
	Atomically(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error

	// Close освобождает ресурсы.
	Close() error
}
