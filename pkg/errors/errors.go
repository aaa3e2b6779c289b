package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInvalidInput = "INVALID_INPUT"

	// Slot coordination codes. These are expected outcomes of concurrent
	// booking traffic, not failures: the caller is supposed to react to
	// them (wait, pick an alternative, re-subscribe).
	CodeSlotBeingReserved   = "SLOT_BEING_RESERVED"
	CodeSlotAlreadyBooked   = "SLOT_ALREADY_BOOKED"
	CodeSlotConflict        = "SLOT_CONFLICT"
	CodeSlotReserved        = "SLOT_RESERVED"
	CodeReservationNotFound = "RESERVATION_NOT_FOUND"
	CodeReservationExpired  = "RESERVATION_EXPIRED"
)

type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) StatusCode() int {
	return e.HTTPStatus
}

func (e *AppError) ToJSON() []byte {
	response := ErrorResponse{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
	data, _ := json.Marshal(response)
	return data
}

type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail entry, allocating the map on first use.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

func NotFoundWithID(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details: map[string]any{
			"resource": resource,
			"id":       id,
		},
	}
}

func Validation(message string, details map[string]any) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func Timeout(message string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

func Unavailable(service string) *AppError {
	return &AppError{
		Code:       CodeUnavailable,
		Message:    fmt.Sprintf("%s is temporarily unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// SlotBeingReserved reports that another session currently holds the slot.
// remainingSeconds is the time left on that hold's TTL.
func SlotBeingReserved(remainingSeconds int) *AppError {
	return &AppError{
		Code:       CodeSlotBeingReserved,
		Message:    "This slot is currently being reserved by another client",
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"remaining_seconds": remainingSeconds,
		},
	}
}

func SlotAlreadyBooked() *AppError {
	return &AppError{
		Code:       CodeSlotAlreadyBooked,
		Message:    "This slot is already booked",
		HTTPStatus: http.StatusConflict,
	}
}

func SlotConflict(message string) *AppError {
	return &AppError{
		Code:       CodeSlotConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

func SlotReserved() *AppError {
	return &AppError{
		Code:       CodeSlotReserved,
		Message:    "This slot is reserved by another client",
		HTTPStatus: http.StatusConflict,
	}
}

func ReservationNotFound(id string) *AppError {
	return &AppError{
		Code:       CodeReservationNotFound,
		Message:    "Reservation not found or already processed",
		HTTPStatus: http.StatusNotFound,
		Details: map[string]any{
			"hold_id": id,
		},
	}
}

func ReservationExpired(id string) *AppError {
	return &AppError{
		Code:       CodeReservationExpired,
		Message:    "Reservation has expired",
		HTTPStatus: http.StatusGone,
		Details: map[string]any{
			"hold_id": id,
		},
	}
}

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func AsAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
