package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER LEARNER COMMAND
// Создаёт нулевую позицию ученика: первый урок открыт, 0 XP.
// Повторная регистрация возвращает существующую позицию.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterLearnerCommand contains the data to register a learner.
type RegisterLearnerCommand struct {
	UserID string `validate:"required,user_id"`
}

// Validate validates the command.
func (c RegisterLearnerCommand) Validate() error {
	return validateStruct("RegisterLearner", c)
}

// RegisterLearnerResult contains the result of the registration.
type RegisterLearnerResult struct {
	Position *progression.Position

	// Created is false when the learner was already registered.
	Created bool
}

// RegisterLearnerHandler handles the RegisterLearnerCommand.
type RegisterLearnerHandler struct {
	store     progression.Store
	publisher shared.EventPublisher
	cfg       HandlerConfig
	log       *logger.Logger
}

// NewRegisterLearnerHandler creates a new RegisterLearnerHandler.
func NewRegisterLearnerHandler(store progression.Store, publisher shared.EventPublisher, cfg HandlerConfig) *RegisterLearnerHandler {
	cfg = cfg.withDefaults()
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &RegisterLearnerHandler{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		log:       cfg.Logger.With(logger.Component("register_learner")),
	}
}

// Handle executes the register learner command.
func (h *RegisterLearnerHandler) Handle(ctx context.Context, cmd RegisterLearnerCommand) (*RegisterLearnerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	pos, err := progression.NewPosition(cmd.UserID, h.cfg.Clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	err = h.cfg.storeRetry("register_learner", h.log).Do(ctx, func(ctx context.Context) error {
		return h.store.Positions().Create(ctx, pos)
	})
	if errors.Is(err, progression.ErrPositionExists) {
		existing, err := h.store.Positions().Get(ctx, pos.UserID)
		if err != nil {
			return nil, fmt.Errorf("register_learner: failed to load position: %w", err)
		}
		return &RegisterLearnerResult{Position: existing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("register_learner: failed to create position: %w", err)
	}

	h.log.Info("learner registered", logger.UserID(pos.UserID))
	publishAll(h.publisher, h.log, []shared.Event{shared.NewLearnerRegisteredEvent(pos.UserID)})

	return &RegisterLearnerResult{Position: pos, Created: true}, nil
}
