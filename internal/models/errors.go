package models

import (
	"errors"
	"fmt"
)

// Error codes carried by transports when reporting a failed explanation
const (
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// MinHistoryLength is the shortest AQI series any analysis accepts
const MinHistoryLength = 3

// InsufficientDataError reports an AQI history that is too short to analyze
type InsufficientDataError struct {
	Got      int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: aqi_history has %d samples, need at least %d", e.Got, e.Required)
}

// ValidationError reports malformed input: a length mismatch, a non-finite
// value, or a payload that could not be decoded
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", msg, e.Cause)
	}
	return "validation error: " + msg
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ErrorCode maps an error to the code reported to callers
func ErrorCode(err error) string {
	var insufficient *InsufficientDataError
	if errors.As(err, &insufficient) {
		return CodeInsufficientData
	}
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		return CodeValidationError
	}
	return CodeInternalError
}
