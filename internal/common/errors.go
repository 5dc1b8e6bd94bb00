// Package common defines the shared error surface of the transfer service.
// Expected, user-facing outcomes are represented by *AppError values carrying
// a stable (code, message, statusHint) triple; internal failures stay plain
// errors and must never leak detail to callers.
package common

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the expected, user-facing outcomes.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeMaxReceivers ErrorCode = "MAX_RECEIVERS"
	CodeForbidden    ErrorCode = "FORBIDDEN"
)

var (
	// ErrorInternal marks unexpected failures (store timeouts, generator
	// exhaustion). Surfaced to callers as an opaque internal error.
	ErrorInternal = errors.New("internal error")
)

// AppError is an expected operation outcome. StatusHint is the
// HTTP-equivalent status the transport layer should map the error to.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusHint int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string, statusHint int) *AppError {
	return &AppError{Code: code, Message: message, StatusHint: statusHint}
}

// AsAppError unwraps err into an *AppError if it is one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
