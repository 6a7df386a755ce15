package validator

import (
	allocvalidator "allotment/internal/allocation/validator"
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type SlotValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewSlotValidator(log *logger.Logger) *SlotValidator {
	v := validator.New()

	if err := allocvalidator.RegisterIdentifier(v); err != nil {
		log.Fatal("Failed to register 'identifier' validator",
			"error", err,
		)
	}

	return &SlotValidator{
		validate: v,
		logger:   log,
	}
}

func (v *SlotValidator) Validate(slot *model.Slot) error {
	if err := v.validate.Struct(slot); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return allocvalidator.TranslateValidationErrors(validationErrs)
		}
		return err
	}

	var errs allocvalidator.ValidationErrors
	for field, id := range map[string]string{"ID": slot.ID, "TeamID": slot.TeamID} {
		if err := v.validate.Var(id, "identifier"); err != nil {
			errs = append(errs, allocvalidator.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s must be an identifier of letters, digits and ._:@-", field),
			})
		}
	}
	if slot.State == model.SlotReserved && slot.Claimant == "" {
		errs = append(errs, allocvalidator.ValidationError{
			Field:   "Claimant",
			Message: "Claimant is required for a reserved slot",
		})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
