// Package observe provides logging, tracing and metrics for the download
// pipeline.
//
// The Observer owns the OpenTelemetry providers and the structured logger.
// Construct one at process startup, pass it by dependency injection, and
// call Shutdown on exit.
//
//	obs, err := observe.New(ctx, observe.Config{
//	    ServiceName: "feedgate",
//	    Version:     version,
//	    Tracing:     observe.TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 1.0},
//	    Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	    Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
//	})
//
// Log entries automatically carry the correlation id of the operation in
// the context, and fields holding credentials are redacted.
package observe
