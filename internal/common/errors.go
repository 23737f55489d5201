package common

import (
	"errors"
	"fmt"
	"strings"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Details []string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes surfaced to callers.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeDuplicateKey       = "DUPLICATE_KEY"
	CodeNotFound           = "NOT_FOUND"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeBackend            = "BACKEND_ERROR"
	CodeConfig             = "CONFIG_ERROR"
)

// Common application errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBackend            = errors.New("storage backend error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError carries every validation message so callers can show them verbatim.
func NewValidationError(messages []string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: strings.Join(messages, "; "),
		Details: messages,
		Cause:   ErrValidation,
	}
}

func NewDuplicateKeyError(id string) *AppError {
	return NewAppError(CodeDuplicateKey, fmt.Sprintf("entry %q already exists", id), ErrDuplicateKey)
}

func NewNotFoundError(id string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("entry %q not found", id), ErrNotFound)
}

func NewStorageUnavailableError(message string, cause error) *AppError {
	if cause == nil {
		cause = ErrStorageUnavailable
	} else {
		cause = fmt.Errorf("%w: %w", ErrStorageUnavailable, cause)
	}
	return NewAppError(CodeStorageUnavailable, message, cause)
}

// NewBackendError keeps the driver error reachable through errors.As.
func NewBackendError(op string, err error) *AppError {
	return NewAppError(CodeBackend, op, fmt.Errorf("%w: %w", ErrBackend, err))
}

// ValidationDetails returns the individual validation messages carried by err, if any.
func ValidationDetails(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == CodeValidation {
		return appErr.Details
	}
	return nil
}
