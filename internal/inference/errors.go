package inference

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBatch            = errors.New("received invalid inputs")
	ErrDuplicateRequestID      = errors.New("duplicate request identifier in batch")
	ErrAmbiguousParameter      = errors.New("parameter sent both with and without array marker")
	ErrPredictionCountMismatch = errors.New("number of batch responses mismatched")
	ErrInvalidContext          = errors.New("invalid request context")
)

// PredictionError is returned by an entry point that wants the failure
// reported with a specific status code.
type PredictionError struct {
	Code    int
	Message string
}

func NewPredictionError(code int, message string) *PredictionError {
	return &PredictionError{Code: code, Message: message}
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed with code %d: %s", e.Code, e.Message)
}
