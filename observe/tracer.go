package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/feedgate/feedgate/correlation"
)

// OpMeta identifies one provider operation for telemetry.
type OpMeta struct {
	Provider    string // provider identity, e.g. "barchart"
	Environment string // deployment environment, e.g. "prod"
	Operation   string // logical operation, e.g. "download.daily_bars"
}

// SpanName returns the deterministic span name for this operation.
func (m OpMeta) SpanName() string {
	if m.Provider != "" {
		return m.Operation + "." + m.Provider
	}
	return m.Operation
}

// StartSpan starts a span for a provider operation, attaching provider,
// environment and correlation id attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, meta OpMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", meta.Provider),
		attribute.String("environment", meta.Environment),
	}
	if id := correlation.ID(ctx); id != "" {
		attrs = append(attrs, attribute.String("correlation_id", id))
	}

	return tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span, recording the error status if present.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
