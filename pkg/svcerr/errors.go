// Package svcerr defines the typed error taxonomy for the prediction service
package svcerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes used across the service. HTTP handlers and callers branch on
// these rather than on message text.
const (
	CodeData            = "DATA_ERROR"
	CodeModel           = "MODEL_ERROR"
	CodePrediction      = "PREDICTION_ERROR"
	CodeDatabase        = "DATABASE_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeRetryExhausted  = "RETRY_EXHAUSTED"
	CodeUnexpected      = "UNEXPECTED_ERROR"
)

// Error is the common base for all service failures
type Error struct {
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Message:   message,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// WithCause attaches the underlying error and records its message in details
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	if cause != nil {
		if e.Details == nil {
			e.Details = make(map[string]interface{})
		}
		e.Details["original_error"] = cause.Error()
	}
	return e
}

// Data reports a caller-fixable input problem
func Data(message string, details map[string]interface{}) *Error {
	return newError(CodeData, message, details)
}

// Model reports a missing, corrupt or otherwise unusable model
func Model(message string, details map[string]interface{}) *Error {
	return newError(CodeModel, message, details)
}

// Prediction reports a failed prediction computation
func Prediction(message string, details map[string]interface{}) *Error {
	return newError(CodePrediction, message, details)
}

// External reports a downstream dependency failure
func External(message string, details map[string]interface{}) *Error {
	return newError(CodeExternalService, message, details)
}

// RetryExhausted reports an operation that failed all retry attempts
func RetryExhausted(message string, details map[string]interface{}) *Error {
	return newError(CodeRetryExhausted, message, details)
}

// Unexpected wraps an unclassified failure
func Unexpected(message string, cause error) *Error {
	return newError(CodeUnexpected, message, nil).WithCause(cause)
}

// Database classifies a persistence failure by inspecting the cause message.
// The category (connection/timeout/query/unknown) lands in details so
// operators can triage without parsing free text.
func Database(cause error) *Error {
	msg := strings.ToLower(cause.Error())
	category := "unknown"
	message := fmt.Sprintf("database error: %v", cause)

	switch {
	case strings.Contains(msg, "connection") || strings.Contains(msg, "connect"):
		category = "connection"
		message = "database connection failed"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		category = "timeout"
		message = "database operation timed out"
	case strings.Contains(msg, "syntax") || strings.Contains(msg, "sql"):
		category = "query"
		message = "database query error"
	}

	return newError(CodeDatabase, message, map[string]interface{}{
		"category": category,
	}).WithCause(cause)
}

// CodeOf returns the taxonomy code of err, or UNEXPECTED_ERROR for errors
// outside the taxonomy.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnexpected
}

// IsCode reports whether err carries the given taxonomy code
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// Classify converts an arbitrary error into a service error. Errors already
// in the taxonomy pass through untouched.
func Classify(err error, fallbackCode, message string) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(fallbackCode, message, nil).WithCause(err)
}
