// Package errors defines the coded errors rendered in response envelopes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable code sent to clients
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeCallNotFound      ErrorCode = "CALL_NOT_FOUND"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Call lifecycle
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeTransport     ErrorCode = "TRANSPORT_ERROR"
	ErrCodeUpload        ErrorCode = "UPLOAD_ERROR"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage  ErrorCode = "STORAGE_ERROR"
)

// AppError carries a code, a client safe message and the HTTP status to
// answer with. Err stays server side.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
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

func newError(code ErrorCode, status int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status, Err: err}
}

// Wrap attaches a code and message to err and answers 500
func Wrap(code ErrorCode, message string, err error) *AppError {
	return newError(code, http.StatusInternalServerError, message, err)
}

func ValidationError(message string) *AppError {
	return newError(ErrCodeValidation, http.StatusBadRequest, message, nil)
}

func ForbiddenError(message string) *AppError {
	return newError(ErrCodeForbidden, http.StatusForbidden, message, nil)
}

func CallNotFoundError() *AppError {
	return newError(ErrCodeCallNotFound, http.StatusNotFound, "Call not found", nil)
}

// ConfigurationError is fatal to starting a call: the token service is missing credentials.
func ConfigurationError(message string) *AppError {
	return newError(ErrCodeConfiguration, http.StatusInternalServerError, message, nil)
}

// TransportError covers media connect failures and device permission denials.
func TransportError(message string, err error) *AppError {
	return newError(ErrCodeTransport, http.StatusBadGateway, message, err)
}

// UploadError covers chat file send failures.
func UploadError(err error) *AppError {
	return newError(ErrCodeUpload, http.StatusBadGateway, "File upload failed", err)
}

// InvalidStateError reports an action that the current call state does not allow.
func InvalidStateError(message string) *AppError {
	return newError(ErrCodeInvalidState, http.StatusConflict, message, nil)
}

func InternalError(message string) *AppError {
	return newError(ErrCodeInternal, http.StatusInternalServerError, message, nil)
}

func DatabaseError(err error) *AppError {
	return newError(ErrCodeDatabase, http.StatusInternalServerError, "Database error", err)
}

func StorageError(err error) *AppError {
	return newError(ErrCodeStorage, http.StatusInternalServerError, "Storage error", err)
}

// HasCode reports whether the first AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetAppError extracts the AppError from err's chain. Anything else becomes
// a generic 500 so internal detail is not leaked to clients.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return newError(ErrCodeInternal, http.StatusInternalServerError, "Internal server error", err)
}
