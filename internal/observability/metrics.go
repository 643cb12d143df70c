// Package observability exposes workflow, ledger and cache metrics through
// OpenTelemetry with a Prometheus exporter.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// Workflow metrics
	WorkflowDuration metric.Float64Histogram
	WorkflowsTotal   metric.Int64Counter
	WorkflowErrors   metric.Int64Counter
	WorkflowsActive  metric.Int64UpDownCounter

	// Ledger, cache and fetcher metrics
	LedgerWrites    metric.Int64Counter
	LedgerCancelled metric.Int64Counter
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	FetchAttempts   metric.Int64Counter
}

// NewMetrics creates all instruments on a private registry and returns the
// handler serving it in Prometheus text format.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m, err := newMetrics(provider.Meter("automl-api"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkflowDuration, err = meter.Float64Histogram(
		"workflow_duration_seconds",
		metric.WithDescription("Workflow execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	m.WorkflowsTotal, err = meter.Int64Counter(
		"workflows_total",
		metric.WithDescription("Total number of workflows started"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkflowErrors, err = meter.Int64Counter(
		"workflow_errors_total",
		metric.WithDescription("Total number of workflows finalized as FAILED"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkflowsActive, err = meter.Int64UpDownCounter(
		"workflows_active",
		metric.WithDescription("Number of workflows currently executing"),
	)
	if err != nil {
		return nil, err
	}

	m.LedgerWrites, err = meter.Int64Counter(
		"ledger_writes_total",
		metric.WithDescription("Total number of job ledger overwrites"),
	)
	if err != nil {
		return nil, err
	}

	m.LedgerCancelled, err = meter.Int64Counter(
		"ledger_jobs_cancelled_total",
		metric.WithDescription("Jobs marked CANCELLED during refresh because the remote service no longer reports them"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"response_cache_hits_total",
		metric.WithDescription("Response cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"response_cache_misses_total",
		metric.WithDescription("Response cache misses"),
	)
	if err != nil {
		return nil, err
	}

	m.FetchAttempts, err = meter.Int64Counter(
		"fetch_attempts_total",
		metric.WithDescription("Object store reads issued by the retry fetcher"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String("kind", kind)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool("success", success)
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
}

// RecordWorkflowStarted records a workflow entering execution.
func (m *Metrics) RecordWorkflowStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(kindAttr(kind))
	m.WorkflowsTotal.Add(ctx, 1, attrs)
	m.WorkflowsActive.Add(ctx, 1, attrs)
}

// RecordWorkflowCompleted records a workflow leaving execution.
func (m *Metrics) RecordWorkflowCompleted(ctx context.Context, kind string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(kindAttr(kind), successAttr(success))
	m.WorkflowDuration.Record(ctx, durationSeconds, attrs)
	m.WorkflowsActive.Add(ctx, -1, metric.WithAttributes(kindAttr(kind)))
	if !success {
		m.WorkflowErrors.Add(ctx, 1, attrs)
	}
}

// RecordLedgerWrite records one full-array overwrite of a ledger.
func (m *Metrics) RecordLedgerWrite(ctx context.Context) {
	if m == nil {
		return
	}
	m.LedgerWrites.Add(ctx, 1)
}

// RecordLedgerCancelled records jobs cancelled by reconciliation.
func (m *Metrics) RecordLedgerCancelled(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.LedgerCancelled.Add(ctx, int64(n))
}

// RecordCache records a cache lookup.
func (m *Metrics) RecordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordFetchAttempt records one read by the retry fetcher.
func (m *Metrics) RecordFetchAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.FetchAttempts.Add(ctx, 1)
}
