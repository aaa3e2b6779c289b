package validator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicops/pkg/logger"
	"clinicops/pkg/model"

	"github.com/go-playground/validator/v10"
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

type AppointmentValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewAppointmentValidator(log *logger.Logger) *AppointmentValidator {
	return &AppointmentValidator{
		validate: validator.New(),
		logger:   log,
	}
}

func (v *AppointmentValidator) ValidateRequest(req *model.AppointmentRequest, now time.Time) error {
	if err := v.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}

	day, err := model.ParseDate(req.Date)
	if err != nil {
		return ValidationErrors{
			ValidationError{Field: "Date", Message: "date must be in YYYY-MM-DD format"},
		}
	}

	if day.Before(now.UTC().Truncate(24 * time.Hour)) {
		return ValidationErrors{
			ValidationError{Field: "Date", Message: "date cannot be in the past"},
		}
	}

	startMin, err := model.ParseClock(req.StartTime)
	if err != nil {
		return ValidationErrors{
			ValidationError{Field: "StartTime", Message: "start_time must be in HH:MM format"},
		}
	}

	if startMin+req.DurationMin > 24*60 {
		return ValidationErrors{
			ValidationError{Field: "DurationMin", Message: "appointment must end within the same day"},
		}
	}

	return nil
}

func (v *AppointmentValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
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
		case "datetime":
			message = fmt.Sprintf("%s must match format %s", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid MongoDB ObjectID", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
