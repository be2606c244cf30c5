package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error with a stable code. HTTPStatus is used
// by the ops API; workers branch on Code.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to clients)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Ledger (LED) ----
//
// A denied reservation is a ReservationResult outcome, not an error, so
// there is no insufficient-credits code here.

func ErrInvalidAmount() *AppError {
	return New("LED_002", "Amount must be positive", http.StatusBadRequest)
}

func ErrInvalidUnits() *AppError {
	return New("LED_003", "Units must be non-negative", http.StatusBadRequest)
}

// ---- Campaign (CMP) ----

func ErrCampaignNotFound() *AppError {
	return New("CMP_001", "Campaign not found", http.StatusNotFound)
}

func ErrCampaignTransition(from, to string) *AppError {
	return New("CMP_002", fmt.Sprintf("Campaign cannot move from %s to %s", from, to), http.StatusConflict)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrStreamError(err error) *AppError {
	return Wrap("SYS_002", "Event stream failure", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_002-style validation error.
func Validation(message string) *AppError {
	return New("LED_002", message, http.StatusBadRequest)
}
