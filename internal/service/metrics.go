package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "modelworker"

// Metrics holds the worker's Prometheus collectors. Each instance owns its
// registry so several services can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    prometheus.Counter
	requestsFailed   prometheus.Counter
	inflight         prometheus.Gauge
	requestLatency   prometheus.Histogram
	batchesTotal     prometheus.Counter
	batchErrorsTotal prometheus.Counter
	batchItemsTotal  prometheus.Counter
	batchSize        prometheus.Histogram
	queueLatency     prometheus.Histogram
	inferenceLatency prometheus.Histogram
}

func NewMetrics(model string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"model": model}
	latencyBuckets := []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "requests_total",
			Help:        "Total number of predict requests.",
			ConstLabels: constLabels,
		}),
		requestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "requests_failed_total",
			Help:        "Total number of failed predict requests.",
			ConstLabels: constLabels,
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "inflight",
			Help:        "Predict requests currently being served.",
			ConstLabels: constLabels,
		}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "request_latency_ms",
			Help:        "End to end predict latency in milliseconds.",
			ConstLabels: constLabels,
			Buckets:     latencyBuckets,
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "batches_total",
			Help:        "Total number of dispatched batches.",
			ConstLabels: constLabels,
		}),
		batchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "batch_errors_total",
			Help:        "Total number of batches that failed.",
			ConstLabels: constLabels,
		}),
		batchItemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "batch_items_total",
			Help:        "Total number of requests across dispatched batches.",
			ConstLabels: constLabels,
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "batch_size",
			Help:        "Requests per dispatched batch.",
			ConstLabels: constLabels,
			Buckets:     prometheus.LinearBuckets(1, 1, 16),
		}),
		queueLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "queue_latency_ms",
			Help:        "Average queue wait per batch in milliseconds.",
			ConstLabels: constLabels,
			Buckets:     latencyBuckets,
		}),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "inference_latency_ms",
			Help:        "Dispatch time per batch in milliseconds.",
			ConstLabels: constLabels,
			Buckets:     latencyBuckets,
		}),
	}
	registry.MustRegister(
		m.requestsTotal,
		m.requestsFailed,
		m.inflight,
		m.requestLatency,
		m.batchesTotal,
		m.batchErrorsTotal,
		m.batchItemsTotal,
		m.batchSize,
		m.queueLatency,
		m.inferenceLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequestStart() {
	m.requestsTotal.Inc()
	m.inflight.Inc()
}

func (m *Metrics) RecordRequestDone(latency time.Duration, success bool) {
	m.inflight.Dec()
	m.requestLatency.Observe(durationMillis(latency))
	if !success {
		m.requestsFailed.Inc()
	}
}

func (m *Metrics) RecordBatchStats(
	batchSize int,
	avgQueueWait time.Duration,
	inferenceTime time.Duration,
	success bool,
) {
	if batchSize < 0 {
		batchSize = 0
	}
	m.batchesTotal.Inc()
	m.batchItemsTotal.Add(float64(batchSize))
	m.batchSize.Observe(float64(batchSize))
	m.queueLatency.Observe(durationMillis(avgQueueWait))
	m.inferenceLatency.Observe(durationMillis(inferenceTime))
	if !success {
		m.batchErrorsTotal.Inc()
	}
}
