package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeInvalidPayload  ErrorType = "invalid_payload"
	ErrorTypeServer          ErrorType = "server"
)

var (
	// ErrConfirmationRequired is returned when a risky action is submitted
	// without the caller having obtained confirmation.
	ErrConfirmationRequired = errors.New("action requires confirmation")
	ErrActionNotFound       = errors.New("queued action not found")
)

type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Cause   error     `json:"cause,omitempty"`
}

func (e *AppError) Error() string {
	if e.Type == ErrorTypeServer {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewUnauthenticatedError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthenticated,
		Message: message,
		Code:    http.StatusUnauthorized,
		Cause:   cause,
	}
}

func NewInvalidResponseError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidResponse,
		Message: message,
		Code:    http.StatusBadGateway,
		Cause:   cause,
	}
}

func NewInvalidPayloadError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidPayload,
		Message: message,
		Code:    http.StatusUnprocessableEntity,
		Cause:   cause,
	}
}

// NewServerError reports an upstream non-2xx answer. An empty message falls
// back to the standard status text.
func NewServerError(code int, message string) *AppError {
	if message == "" {
		message = http.StatusText(code)
	}
	return &AppError{
		Type:    ErrorTypeServer,
		Message: message,
		Code:    code,
	}
}

func IsUnauthenticated(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeUnauthenticated
}

func IsInvalidResponse(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeInvalidResponse
}

func IsInvalidPayload(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeInvalidPayload
}

func IsServerError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ErrorTypeServer
}

// ServerCode returns the upstream HTTP status carried by a server error.
func ServerCode(err error) (int, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrorTypeServer {
		return appErr.Code, true
	}
	return 0, false
}

// Message returns the human-facing text of err without the type prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
