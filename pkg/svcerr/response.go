package svcerr

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrorBody is the serialized error payload returned to API clients
type ErrorBody struct {
	Code                string                 `json:"code"`
	Message             string                 `json:"message"`
	Details             map[string]interface{} `json:"details,omitempty"`
	Timestamp           time.Time              `json:"timestamp"`
	RequestID           string                 `json:"request_id"`
	RecoverySuggestions []string               `json:"recovery_suggestions,omitempty"`
}

// Response is a standardized failure envelope
type Response struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// NewResponse builds a failure envelope with a fresh request ID and
// per-code recovery suggestions.
func NewResponse(err error) Response {
	body := ErrorBody{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}

	var se *Error
	if errors.As(err, &se) {
		body.Code = se.Code
		body.Message = se.Message
		body.Details = se.Details
		body.Timestamp = se.Timestamp
	} else {
		body.Code = CodeUnexpected
		body.Message = err.Error()
	}

	body.RecoverySuggestions = Suggestions(body.Code, body.Details)
	return Response{Success: false, Error: body}
}
