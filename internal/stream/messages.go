package stream

import (
	"encoding/json"

	"aqiexplain/internal/models"
)

// Stream message fields
const (
	fieldRequestID = "request_id"
	fieldData      = "data"
)

// Result statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the document published to the result stream for every request
type Result struct {
	RequestID  string         `json:"request_id"`
	Status     string         `json:"status"`
	Assessment map[string]any `json:"assessment,omitempty"`
	Error      *ErrorBody     `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResult builds the result document for one explained request
func NewResult(requestID string, a *models.ExplainabilityAssessment, err error) Result {
	if err != nil {
		return Result{
			RequestID: requestID,
			Status:    StatusError,
			Error:     &ErrorBody{Code: models.ErrorCode(err), Message: err.Error()},
		}
	}
	return Result{RequestID: requestID, Status: StatusOK, Assessment: a.ToDict()}
}

func (r Result) encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseResult decodes a result document read from the result stream
func ParseResult(data string) (Result, error) {
	var r Result
	err := json.Unmarshal([]byte(data), &r)
	return r, err
}
