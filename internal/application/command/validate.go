// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/neuroswitch/progression-engine/internal/domain/shared"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("user_id", func(fl validator.FieldLevel) bool {
		return shared.UserID(fl.Field().String()).IsValid()
	})
	return v
}

// Validator returns the validator shared by commands and the HTTP layer.
func Validator() *validator.Validate {
	return validate
}

// validateStruct runs tag validation and reports failures as a domain
// validation error naming every offending field.
func validateStruct(op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return shared.NewDomainError("command", op, shared.ErrValidation, "invalid fields: "+strings.Join(fields, ", "))
}
