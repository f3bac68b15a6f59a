package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/apex-x/modelworker/internal/inference"
)

var (
	ErrQueueFull      = errors.New("request queue is full")
	ErrBatcherStopped = errors.New("batcher is stopped")
)

type batchItem struct {
	ctx      context.Context
	req      inference.RawRequest
	enqueued time.Time
	result   chan batchResult
}

type batchResult struct {
	response inference.Response
	err      error
}

type BatcherConfig struct {
	MaxBatchSize int
	BatchWindow  time.Duration
	QueueSize    int
	OnBatch      func(batchSize int, avgQueueWait time.Duration, inferenceTime time.Duration, err error)
	Logger       *slog.Logger
	Hooks        TelemetryHooks
	Emitter      *inference.MetricsEmitter
}

// Batcher groups queued requests into batches of at most MaxBatchSize and
// hands each batch to the dispatcher once.
type Batcher struct {
	dispatcher *inference.Dispatcher
	cfg        BatcherConfig

	queue   chan batchItem
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	hooks   TelemetryHooks
	emitter *inference.MetricsEmitter
}

func NewBatcher(dispatcher *inference.Dispatcher, cfg BatcherConfig) (*Batcher, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be > 0")
	}
	if cfg.BatchWindow <= 0 {
		return nil, fmt.Errorf("batch window must be > 0")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
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
	return &Batcher{
		dispatcher: dispatcher,
		cfg:        cfg,
		queue:      make(chan batchItem, cfg.QueueSize),
		stop:       make(chan struct{}),
		logger:     logger,
		hooks:      hooks,
		emitter:    emitter,
	}, nil
}

func (b *Batcher) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run()
	}()
}

func (b *Batcher) Stop() {
	close(b.stop)
	b.wg.Wait()
}

func (b *Batcher) Submit(ctx context.Context, req inference.RawRequest) (inference.Response, error) {
	resultCh := make(chan batchResult, 1)
	item := batchItem{
		ctx:      ctx,
		req:      req,
		enqueued: time.Now(),
		result:   resultCh,
	}

	select {
	case <-ctx.Done():
		return inference.Response{}, ctx.Err()
	case <-b.stop:
		return inference.Response{}, ErrBatcherStopped
	default:
	}

	select {
	case b.queue <- item:
	default:
		return inference.Response{}, ErrQueueFull
	}

	select {
	case result := <-resultCh:
		return result.response, result.err
	case <-ctx.Done():
		return inference.Response{}, ctx.Err()
	case <-b.stop:
		return inference.Response{}, ErrBatcherStopped
	}
}

// Dispatch runs an already assembled batch through the dispatcher with the
// same logging, hooks and metrics records as queued batches.
func (b *Batcher) Dispatch(ctx context.Context, raw []inference.RawRequest) ([]inference.Response, error) {
	return b.dispatch(ctx, raw, 0)
}

func (b *Batcher) run() {
	var carry *batchItem
	for {
		first := carry
		carry = nil
		if first == nil {
			select {
			case <-b.stop:
				return
			case item := <-b.queue:
				first = &item
			}
		}
		carry = b.processBatch(*first)
	}
}

// processBatch collects a batch starting with first. An item whose request
// id is already in the batch ends collection and is returned so it leads the
// next batch.
func (b *Batcher) processBatch(first batchItem) *batchItem {
	batch := []batchItem{first}
	ids := map[string]struct{}{string(first.req.RequestID): {}}
	var carry *batchItem
	timer := time.NewTimer(b.cfg.BatchWindow)
	defer timer.Stop()

collectLoop:
	for len(batch) < b.cfg.MaxBatchSize {
		select {
		case <-b.stop:
			b.failAll(batch, ErrBatcherStopped)
			return nil
		case next := <-b.queue:
			if _, dup := ids[string(next.req.RequestID)]; dup {
				carry = &next
				break collectLoop
			}
			ids[string(next.req.RequestID)] = struct{}{}
			batch = append(batch, next)
		case <-timer.C:
			break collectLoop
		}
	}

	live := batch[:0]
	for _, item := range batch {
		if err := item.ctx.Err(); err != nil {
			item.result <- batchResult{err: err}
			continue
		}
		live = append(live, item)
	}
	if len(live) == 0 {
		return carry
	}
	batch = live

	requests := make([]inference.RawRequest, len(batch))
	for idx, item := range batch {
		requests[idx] = item.req
	}

	batchStart := time.Now()
	queueWaitTotal := time.Duration(0)
	for _, item := range batch {
		wait := batchStart.Sub(item.enqueued)
		if wait < 0 {
			wait = 0
		}
		queueWaitTotal += wait
	}
	avgQueueWait := queueWaitTotal / time.Duration(len(batch))

	responses, err := b.dispatch(context.Background(), requests, avgQueueWait)
	if err != nil {
		b.failAll(batch, err)
		return carry
	}
	for idx := range batch {
		batch[idx].result <- batchResult{response: responses[idx]}
	}
	return carry
}

func (b *Batcher) dispatch(
	ctx context.Context,
	requests []inference.RawRequest,
	avgQueueWait time.Duration,
) ([]inference.Response, error) {
	inferenceStart := time.Now()
	responses, handlerMetrics, err := b.dispatcher.PredictWithMetrics(ctx, requests)
	inferenceTime := time.Since(inferenceStart)
	if b.cfg.OnBatch != nil {
		b.cfg.OnBatch(len(requests), avgQueueWait, inferenceTime, err)
	}
	b.hooks.OnBatch(ctx, len(requests), avgQueueWait, inferenceTime, err)

	if err != nil {
		b.logger.Error(
			"batch_inference_failed",
			"model", b.dispatcher.Context().ModelName(),
			"batch_size", len(requests),
			"queue_wait_ms", durationMillis(avgQueueWait),
			"inference_ms", durationMillis(inferenceTime),
			"error", err.Error(),
		)
		return nil, err
	}
	b.logger.Info(
		"batch_inference_done",
		"model", b.dispatcher.Context().ModelName(),
		"batch_size", len(requests),
		"queue_wait_ms", durationMillis(avgQueueWait),
		"inference_ms", durationMillis(inferenceTime),
	)
	record := make(map[string]any, len(handlerMetrics)+3)
	for name, value := range handlerMetrics {
		record[name] = value
	}
	record["ModelName"] = b.dispatcher.Context().ModelName()
	record["BatchSize"] = len(requests)
	record["PredictionTime"] = durationMillis(inferenceTime)
	b.emitter.Emit(record)
	return responses, nil
}

func (b *Batcher) failAll(batch []batchItem, err error) {
	for _, item := range batch {
		item.result <- batchResult{err: err}
	}
}

func durationMillis(value time.Duration) float64 {
	if value < 0 {
		return 0.0
	}
	return float64(value) / float64(time.Millisecond)
}
