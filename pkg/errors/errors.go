package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how callers should react to them.
type Kind string

const (
	// KindValidation is the caller's fault: bad input, missing resource, deadline passed.
	KindValidation Kind = "validation"
	// KindContention means the optimistic retry budget ran out; retrying later may succeed.
	KindContention Kind = "contention"
	// KindStateConflict is a business-rule violation against the current state.
	KindStateConflict Kind = "state_conflict"
	KindInternal      Kind = "internal"
)

const (
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeDeadlinePassed = "DEADLINE_PASSED"
	CodeContention     = "CONTENTION"
	CodeNoDirectSlot   = "NO_DIRECT_SLOT"
	CodeAlreadyClaimed = "ALREADY_CLAIMED"
	CodeHoldExpired    = "HOLD_EXPIRED"
	CodeNotQueued      = "NOT_QUEUED"
	CodeNotHolding     = "NOT_HOLDING"
	CodeSlotNotFound   = "SLOT_NOT_FOUND"
	CodeSlotTaken      = "SLOT_TAKEN"
	CodeAlreadyBooked  = "ALREADY_BOOKED"
	CodeNotSlotOwner   = "NOT_SLOT_OWNER"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL_ERROR"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
)

type AppError struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

// Sentinels for errors.Is. Matching compares Code only, so an AppError built with
// extra details still matches its sentinel.
var (
	ErrResourceNotFound = &AppError{Kind: KindValidation, Code: CodeNotFound, Message: "resource not found"}
	ErrDeadlinePassed   = &AppError{Kind: KindValidation, Code: CodeDeadlinePassed, Message: "registration deadline has passed"}
	ErrNotQueued        = &AppError{Kind: KindValidation, Code: CodeNotQueued, Message: "claimant is not on the waitlist"}
	ErrSlotNotFound     = &AppError{Kind: KindValidation, Code: CodeSlotNotFound, Message: "slot not found"}
	ErrContention       = &AppError{Kind: KindContention, Code: CodeContention, Message: "too many concurrent updates, try again"}
	ErrNoDirectSlot     = &AppError{Kind: KindStateConflict, Code: CodeNoDirectSlot, Message: "no capacity left for direct registration"}
	ErrAlreadyClaimed   = &AppError{Kind: KindStateConflict, Code: CodeAlreadyClaimed, Message: "claimant already holds or is queued for this resource"}
	ErrHoldExpired      = &AppError{Kind: KindStateConflict, Code: CodeHoldExpired, Message: "hold has expired"}
	ErrNotHolding       = &AppError{Kind: KindStateConflict, Code: CodeNotHolding, Message: "claimant has no active hold"}
	ErrSlotTaken        = &AppError{Kind: KindStateConflict, Code: CodeSlotTaken, Message: "slot is already reserved"}
	ErrAlreadyBooked    = &AppError{Kind: KindStateConflict, Code: CodeAlreadyBooked, Message: "claimant already has a slot in this team"}
	ErrNotSlotOwner     = &AppError{Kind: KindStateConflict, Code: CodeNotSlotOwner, Message: "slot is not reserved by this claimant"}
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// StatusCode maps the error onto an HTTP status for the calling layer.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		switch e.Code {
		case CodeNotFound, CodeSlotNotFound, CodeNotQueued:
			return http.StatusNotFound
		case CodeInvalidInput:
			return http.StatusBadRequest
		default:
			return http.StatusUnprocessableEntity
		}
	case KindContention:
		return http.StatusServiceUnavailable
	case KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether retrying the same operation later may succeed.
func (e *AppError) Retryable() bool {
	return e.Kind == KindContention
}

func (e *AppError) ToJSON() []byte {
	response := ErrorResponse{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
	data, _ := json.Marshal(response)
	return data
}

type ErrorResponse struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func New(kind Kind, code, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, kind Kind, code, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails returns a copy of e carrying details, so sentinels are never mutated.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e wrapping err.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

func NotFoundWithID(resource, id string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]any{
			"resource": resource,
			"id":       id,
		},
	}
}

func Validation(message string, details map[string]any) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: message,
		Details: details,
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Code:    CodeInvalidInput,
		Message: message,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Kind:    KindStateConflict,
		Code:    CodeConflict,
		Message: message,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}

func Unavailable(service string) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Code:    CodeUnavailable,
		Message: fmt.Sprintf("%s is temporarily unavailable", service),
	}
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// KindOf returns the kind of err, KindInternal for anything that is not an AppError.
func KindOf(err error) Kind {
	return AsAppError(err).Kind
}
