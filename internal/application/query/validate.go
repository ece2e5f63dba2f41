package query

import (
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

func validateUserID(op, userID string) error {
	if _, err := shared.NewUserID(userID); err != nil {
		return shared.WrapError("query", op, shared.ErrValidation, "invalid user id", err)
	}
	return nil
}
