package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/apex-x/modelworker/internal/inference"
)

var (
	ErrBackendUnavailable = errors.New("inference backend unavailable")
	ErrBackendInference   = errors.New("inference backend inference failed")
	ErrBackendProtocol    = errors.New("inference backend protocol failed")
)

func predictErrorStatusCode(err error) int {
	var predictionErr *inference.PredictionError
	switch {
	case errors.As(err, &predictionErr) && predictionErr.Code > 0:
		return predictionErr.Code
	case errors.Is(err, inference.ErrInvalidBatch),
		errors.Is(err, inference.ErrDuplicateRequestID),
		errors.Is(err, inference.ErrAmbiguousParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrBatcherStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBackendInference),
		errors.Is(err, ErrBackendProtocol),
		errors.Is(err, inference.ErrPredictionCountMismatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
