package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
)

// Error kinds. AppError unwraps to one of these so callers can use errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
)

const (
	CodeValidation         = "VALIDATION"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
)

type AppError struct {
	Code    string
	Message string
	Details interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Err: ErrValidation}
}

func NewPermissionDenied(message string) *AppError {
	return &AppError{Code: CodePermissionDenied, Message: message, Err: ErrPermissionDenied}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Err: ErrNotFound}
}

func NewInvalidCredentials() *AppError {
	return &AppError{Code: CodeInvalidCredentials, Message: "Invalid email or password", Err: ErrInvalidCredentials}
}

func NewEmailNotVerified() *AppError {
	return &AppError{
		Code:    CodeEmailNotVerified,
		Message: "Please verify your email address before logging in.",
		Err:     ErrEmailNotVerified,
	}
}

// FromValidation converts ozzo-validation output into a validation AppError.
// Errors of any other type are returned unchanged.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return &AppError{
			Code:    CodeValidation,
			Message: verrs.Error(),
			Details: verrs,
			Err:     ErrValidation,
		}
	}
	var verr validation.Error
	if errors.As(err, &verr) {
		return NewValidationError(verr.Error())
	}
	return err
}

// NotFoundOr maps gorm.ErrRecordNotFound to a NotFound AppError.
func NotFoundOr(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFound(message)
	}
	return err
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrEmailNotVerified):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// PublicMessage is what the user gets to see for err.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Something went wrong. Please try again."
}
