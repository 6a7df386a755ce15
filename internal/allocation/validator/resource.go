package validator

import (
	"allotment/pkg/logger"
	"allotment/pkg/model"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type ResourceValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewResourceValidator(log *logger.Logger) *ResourceValidator {
	v := validator.New()

	if err := RegisterIdentifier(v); err != nil {
		log.Fatal("Failed to register 'identifier' validator",
			"error", err,
		)
	}

	return &ResourceValidator{
		validate: v,
		logger:   log,
	}
}

// RegisterIdentifier adds the "identifier" tag to v.
func RegisterIdentifier(v *validator.Validate) error {
	return v.RegisterValidation("identifier", validateIdentifier)
}

// validateIdentifier accepts opaque IDs: user IDs, ObjectID hex, UUIDs.
func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

func (v *ResourceValidator) Validate(resource *model.Resource) error {
	if err := v.validate.Struct(resource); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return TranslateValidationErrors(validationErrs)
		}
		return err
	}

	if err := v.ValidateID("ID", resource.ID); err != nil {
		return err
	}

	if len(resource.Holders) > resource.Capacity {
		return ValidationErrors{
			ValidationError{
				Field:   "Holders",
				Message: fmt.Sprintf("holders count (%d) exceeds capacity (%d)", len(resource.Holders), resource.Capacity),
			},
		}
	}

	return nil
}

// ValidateID checks a resource or claimant identifier passed to an operation.
func (v *ResourceValidator) ValidateID(field, id string) error {
	if err := v.validate.Var(id, "required,identifier"); err != nil {
		return ValidationErrors{
			ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s must be a non-empty identifier of letters, digits and ._:@-", field),
			},
		}
	}
	return nil
}

func TranslateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "gtfield":
			message = fmt.Sprintf("%s must be after %s", err.Field(), err.Param())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
