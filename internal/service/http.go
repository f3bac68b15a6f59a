package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apex-x/modelworker/internal/inference"
)

const maxRequestBodyBytes = 32 << 20

type HTTPServiceConfig struct {
	BatchWindow    time.Duration
	QueueSize      int
	PredictTimeout time.Duration
	Logger         *slog.Logger
	Hooks          TelemetryHooks
	Emitter        *inference.MetricsEmitter
}

type HTTPService struct {
	adapter    InferenceAdapter
	dispatcher *inference.Dispatcher
	batcher    *Batcher
	metrics    *Metrics

	predictTimeout time.Duration
	logger         *slog.Logger
	hooks          TelemetryHooks
}

// NewHTTPService wires adapter.Handle into a dispatcher for rc and starts
// the batcher. Batches never exceed rc.BatchSize().
func NewHTTPService(
	rc *inference.RequestContext,
	adapter InferenceAdapter,
	cfg HTTPServiceConfig,
) (*HTTPService, error) {
	if adapter == nil {
		return nil, errors.New("adapter must not be nil")
	}
	if cfg.PredictTimeout < 0 {
		return nil, fmt.Errorf("predict timeout must be >= 0")
	}
	dispatcher, err := inference.NewDispatcher(rc, adapter.Handle)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopTelemetryHooks{}
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = inference.NewMetricsEmitter(logger)
	}
	metrics := NewMetrics(rc.ModelName())
	batcher, err := NewBatcher(dispatcher, BatcherConfig{
		MaxBatchSize: rc.BatchSize(),
		BatchWindow:  cfg.BatchWindow,
		QueueSize:    cfg.QueueSize,
		Logger:       logger,
		Hooks:        hooks,
		Emitter:      emitter,
		OnBatch: func(
			batchSize int,
			avgQueueWait time.Duration,
			inferenceTime time.Duration,
			batchErr error,
		) {
			metrics.RecordBatchStats(batchSize, avgQueueWait, inferenceTime, batchErr == nil)
		},
	})
	if err != nil {
		return nil, err
	}
	batcher.Start()
	return &HTTPService{
		adapter:        adapter,
		dispatcher:     dispatcher,
		batcher:        batcher,
		metrics:        metrics,
		predictTimeout: cfg.PredictTimeout,
		logger:         logger,
		hooks:          hooks,
	}, nil
}

func (s *HTTPService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/models", s.handleModels)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/predict/batch", s.handlePredictBatch)
}

func (s *HTTPService) Metrics() *Metrics { return s.metrics }

func (s *HTTPService) Close() error {
	s.batcher.Stop()
	return s.adapter.Close()
}

func (s *HTTPService) handlePing(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := map[string]string{
		"status":  "Healthy",
		"model":   s.dispatcher.Context().ModelName(),
		"handler": s.adapter.Name(),
	}
	writeJSON(writer, http.StatusOK, response)
}

func (s *HTTPService) handleModels(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(writer, http.StatusOK, describeModel(s.dispatcher.Context(), s.adapter.Name()))
}

func (s *HTTPService) handlePredict(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body PredictRequest
	decoder := json.NewDecoder(io.LimitReader(request.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		http.Error(writer, fmt.Sprintf("invalid request payload: %v", err), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(body.RequestID) == "" {
		body.RequestID = RequestIDFromContext(request.Context())
	}
	if body.RequestID == "" {
		body.RequestID = uuid.NewString()
	}
	s.hooks.OnHTTPRequestStart(request.Context(), "/predict", body.RequestID)
	s.logger.Info(
		"predict_request_received",
		"request_id", body.RequestID,
		"parameters", len(body.Parameters),
		"data_bytes", len(body.Data),
	)

	response, predictErr := s.Predict(request.Context(), body)
	if predictErr != nil {
		statusCode := predictErrorStatusCode(predictErr)
		s.hooks.OnHTTPRequestDone(
			request.Context(),
			"/predict",
			body.RequestID,
			statusCode,
			time.Since(start),
			predictErr,
		)
		s.logger.Error(
			"predict_request_failed",
			"request_id", body.RequestID,
			"status_code", statusCode,
			"error", predictErr.Error(),
		)
		http.Error(writer, predictErr.Error(), statusCode)
		return
	}
	s.hooks.OnHTTPRequestDone(
		request.Context(),
		"/predict",
		body.RequestID,
		response.StatusCode,
		time.Since(start),
		nil,
	)
	s.logger.Info(
		"predict_request_done",
		"request_id", response.RequestID,
		"status_code", response.StatusCode,
		"content_type", response.ContentType,
		"body_bytes", len(response.Body),
	)
	writePrediction(writer, response)
}

func (s *HTTPService) handlePredictBatch(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body []PredictRequest
	decoder := json.NewDecoder(io.LimitReader(request.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		http.Error(writer, fmt.Sprintf("invalid request payload: %v", err), http.StatusBadRequest)
		return
	}
	batchID := RequestIDFromContext(request.Context())
	s.hooks.OnHTTPRequestStart(request.Context(), "/predict/batch", batchID)

	responses, err := s.PredictBatch(request.Context(), body)
	if err != nil {
		statusCode := predictErrorStatusCode(err)
		s.hooks.OnHTTPRequestDone(request.Context(), "/predict/batch", batchID, statusCode, time.Since(start), err)
		s.logger.Error(
			"predict_batch_failed",
			"request_id", batchID,
			"batch_size", len(body),
			"status_code", statusCode,
			"error", err.Error(),
		)
		http.Error(writer, err.Error(), statusCode)
		return
	}
	s.hooks.OnHTTPRequestDone(request.Context(), "/predict/batch", batchID, http.StatusOK, time.Since(start), nil)
	out := make([]PredictResponse, len(responses))
	for idx, resp := range responses {
		out[idx] = newPredictResponse(resp)
	}
	writeJSON(writer, http.StatusOK, out)
}

// Predict validates req on its own, then queues it for batching.
func (s *HTTPService) Predict(ctx context.Context, req PredictRequest) (inference.Response, error) {
	s.metrics.RecordRequestStart()
	start := time.Now()
	resp, err := s.predict(ctx, req.raw())
	s.metrics.RecordRequestDone(time.Since(start), err == nil)
	return resp, err
}

func (s *HTTPService) predict(ctx context.Context, raw inference.RawRequest) (inference.Response, error) {
	// A malformed request must not fail the other requests of its batch.
	if _, err := inference.Normalize([]inference.RawRequest{raw}); err != nil {
		return inference.Response{}, err
	}
	if s.predictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.predictTimeout)
		defer cancel()
	}
	return s.batcher.Submit(ctx, raw)
}

// PredictBatch dispatches an already assembled batch as is.
func (s *HTTPService) PredictBatch(ctx context.Context, reqs []PredictRequest) ([]inference.Response, error) {
	s.metrics.RecordRequestStart()
	start := time.Now()
	responses, err := s.batcher.Dispatch(ctx, RawBatch(reqs))
	s.metrics.RecordRequestDone(time.Since(start), err == nil)
	return responses, err
}

func writePrediction(writer http.ResponseWriter, resp inference.Response) {
	for name, value := range resp.Headers {
		writer.Header().Set(name, value)
	}
	if resp.ContentType != "" {
		writer.Header().Set("Content-Type", resp.ContentType)
	}
	statusCode := resp.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	writer.WriteHeader(statusCode)
	_, _ = writer.Write(resp.Body)
}

func writeJSON(writer http.ResponseWriter, statusCode int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}
