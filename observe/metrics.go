package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Admission outcomes recorded on the request counter.
const (
	OutcomeApproved      = "approved"
	OutcomeDeniedQuota   = "denied_quota"
	OutcomeDeniedRate    = "denied_ratelimit"
	OutcomeDeniedCircuit = "denied_circuit"
	OutcomeFailed        = "failed"
	OutcomeRecovered     = "recovered"
)

// Metrics records admission-control and download telemetry.
type Metrics struct {
	requests     metric.Int64Counter
	retries      metric.Int64Counter
	transitions  metric.Int64Counter
	waitHist     metric.Float64Histogram
	downloadHist metric.Float64Histogram
}

// NewMetrics creates the instrument set on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter(
		"admission.requests.total",
		metric.WithDescription("Provider requests by admission outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"admission.retries.total",
		metric.WithDescription("Retry attempts after transient failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"circuit.transitions.total",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	waitHist, err := meter.Float64Histogram(
		"ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting on the rate limiter"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	downloadHist, err := meter.Float64Histogram(
		"download.duration_ms",
		metric.WithDescription("End-to-end provider request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requests:     requests,
		retries:      retries,
		transitions:  transitions,
		waitHist:     waitHist,
		downloadHist: downloadHist,
	}, nil
}

// NewNopMetrics returns metrics backed by a no-op meter.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(metricnoop.NewMeterProvider().Meter("noop"))
	return m
}

// RecordAdmission counts one admission decision.
func (m *Metrics) RecordAdmission(ctx context.Context, provider, environment, outcome string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("environment", environment),
		attribute.String("outcome", outcome),
	))
}

// RecordRetry counts one retry attempt.
func (m *Metrics) RecordRetry(ctx context.Context, provider string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordTransition counts one circuit breaker transition.
func (m *Metrics) RecordTransition(ctx context.Context, name, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("circuit", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordWait records time spent blocked on the rate limiter.
func (m *Metrics) RecordWait(ctx context.Context, provider string, d time.Duration) {
	m.waitHist.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordDownload records one end-to-end provider request.
func (m *Metrics) RecordDownload(ctx context.Context, provider string, d time.Duration, err error) {
	m.downloadHist.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("error", err != nil),
	))
}
