package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/apex-x/modelworker/internal/service"

type TelemetryHooks interface {
	OnHTTPRequestStart(ctx context.Context, route string, requestID string)
	OnHTTPRequestDone(
		ctx context.Context,
		route string,
		requestID string,
		statusCode int,
		duration time.Duration,
		err error,
	)
	OnBatch(
		ctx context.Context,
		batchSize int,
		avgQueueWait time.Duration,
		inferenceTime time.Duration,
		err error,
	)
}

type NopTelemetryHooks struct{}

func (NopTelemetryHooks) OnHTTPRequestStart(
	_ context.Context,
	_ string,
	_ string,
) {
}

func (NopTelemetryHooks) OnHTTPRequestDone(
	_ context.Context,
	_ string,
	_ string,
	_ int,
	_ time.Duration,
	_ error,
) {
}

func (NopTelemetryHooks) OnBatch(
	_ context.Context,
	_ int,
	_ time.Duration,
	_ time.Duration,
	_ error,
) {
}

// OTelTelemetryHooks records hook events as OpenTelemetry instruments and
// one span per dispatched batch.
type OTelTelemetryHooks struct {
	tracer trace.Tracer

	requestsActive    metric.Int64UpDownCounter
	requestsTotal     metric.Int64Counter
	requestDuration   metric.Float64Histogram
	batchesTotal      metric.Int64Counter
	batchSize         metric.Int64Histogram
	queueWait         metric.Float64Histogram
	inferenceDuration metric.Float64Histogram
}

// NewOTelTelemetryHooks uses the global providers when either argument is nil.
func NewOTelTelemetryHooks(mp metric.MeterProvider, tp trace.TracerProvider) (*OTelTelemetryHooks, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)
	h := &OTelTelemetryHooks{tracer: tp.Tracer(instrumentationName)}

	var err error
	h.requestsActive, err = meter.Int64UpDownCounter("modelworker.http.requests.active",
		metric.WithDescription("HTTP requests in progress"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	h.requestsTotal, err = meter.Int64Counter("modelworker.http.requests",
		metric.WithDescription("Completed HTTP requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	h.requestDuration, err = meter.Float64Histogram("modelworker.http.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	h.batchesTotal, err = meter.Int64Counter("modelworker.batches",
		metric.WithDescription("Dispatched batches"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, err
	}
	h.batchSize, err = meter.Int64Histogram("modelworker.batch.size",
		metric.WithDescription("Requests per batch"),
		metric.WithUnit("{request}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64))
	if err != nil {
		return nil, err
	}
	h.queueWait, err = meter.Float64Histogram("modelworker.batch.queue_wait",
		metric.WithDescription("Average queue wait per batch"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	h.inferenceDuration, err = meter.Float64Histogram("modelworker.batch.inference.duration",
		metric.WithDescription("Dispatch time per batch"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *OTelTelemetryHooks) OnHTTPRequestStart(ctx context.Context, route string, _ string) {
	h.requestsActive.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (h *OTelTelemetryHooks) OnHTTPRequestDone(
	ctx context.Context,
	route string,
	_ string,
	statusCode int,
	duration time.Duration,
	_ error,
) {
	routeAttr := attribute.String("route", route)
	h.requestsActive.Add(ctx, -1, metric.WithAttributes(routeAttr))
	attrs := metric.WithAttributes(routeAttr, attribute.Int("status_code", statusCode))
	h.requestsTotal.Add(ctx, 1, attrs)
	h.requestDuration.Record(ctx, durationMillis(duration), attrs)
}

func (h *OTelTelemetryHooks) OnBatch(
	ctx context.Context,
	batchSize int,
	avgQueueWait time.Duration,
	inferenceTime time.Duration,
	err error,
) {
	end := time.Now()
	_, span := h.tracer.Start(ctx, "modelworker.batch",
		trace.WithTimestamp(end.Add(-inferenceTime)),
		trace.WithAttributes(
			attribute.Int("batch.size", batchSize),
			attribute.Float64("batch.queue_wait_ms", durationMillis(avgQueueWait)),
		),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(end))

	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	h.batchesTotal.Add(ctx, 1, attrs)
	h.batchSize.Record(ctx, int64(batchSize))
	h.queueWait.Record(ctx, durationMillis(avgQueueWait))
	h.inferenceDuration.Record(ctx, durationMillis(inferenceTime), attrs)
}
