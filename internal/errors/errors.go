// Package errors provides a single typed application error, adapted from
// the teacher's HTTP-status-mapped AppError into one that also maps onto
// the RPC fault codes of §4.2/§4.3/§7 (Client.Arguments, Client.Slowdown).
package errors

import (
	"fmt"
	"net/http"

	"github.com/kgbnotify/kgb/internal/wire"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// RPC argument errors (§7): bad arity, unknown protocol, unknown repo,
	// bad UTF-8, auth failure.
	ErrCodeArguments ErrorCode = "ARGUMENTS"
	// RPC admission-control error (§7): send backlog saturated.
	ErrCodeSlowdown ErrorCode = "SLOWDOWN"

	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"

	// IRC / transport errors.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeSendFailed       ErrorCode = "SEND_FAILED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeConfigError   ErrorCode = "CONFIG_ERROR"
)

// AppError represents an application error with additional context.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getStatusCodeForError(code),
	}
}

// Wrap wraps an existing error with application context.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getStatusCodeForError(code),
		Err:        err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: getStatusCodeForError(code),
		Err:        err,
	}
}

func getStatusCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeArguments, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeSlowdown:
		return http.StatusServiceUnavailable
	case ErrCodeConnectionFailed, ErrCodeSendFailed, ErrCodeInternalError, ErrCodeConfigError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RPCFault converts an AppError into the RPC fault the client sees on the
// wire (§4.2): everything maps to Client.Arguments except the admission
// control rejection, which maps to Client.Slowdown.
func (e *AppError) RPCFault() *wire.Fault {
	code := wire.FaultArguments
	if e.Code == ErrCodeSlowdown {
		code = wire.FaultSlowdown
	}
	return wire.NewFault(code, "%s", e.Message)
}

// Common error constructors for convenience.

func ValidationError(message string) *AppError {
	return New(ErrCodeValidationFailed, message)
}

// ArgumentsError wraps any RPC-level rejection (§4.3: unknown repo, bad
// arity, unknown protocol, bad UTF-8, auth failure) as Client.Arguments.
func ArgumentsError(format string, args ...interface{}) *AppError {
	return New(ErrCodeArguments, fmt.Sprintf(format, args...))
}

// SlowdownError signals that the IRC send backlog exceeded queue_limit
// (§4.3 step 3).
func SlowdownError() *AppError {
	return New(ErrCodeSlowdown, "IRC send queue saturated")
}

func ConnectionFailed(err error) *AppError {
	return Wrap(err, ErrCodeConnectionFailed, "failed to connect to IRC network")
}

func SendFailed(err error) *AppError {
	return Wrap(err, ErrCodeSendFailed, "failed to send message")
}

func InternalError(err error) *AppError {
	return Wrap(err, ErrCodeInternalError, "internal server error")
}

func ConfigError(err error) *AppError {
	return Wrap(err, ErrCodeConfigError, "configuration error")
}
