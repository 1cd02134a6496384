// # Overview
//
// This package sets up OpenTelemetry tracing and OTLP metrics export. Spans
// are created with otel.Tracer in each package; New installs the providers
// globally so those spans reach the collector. Prometheus metrics are
// registered separately with promauto and served on /metrics.
//
// # Usage
//
//	cfg := telemetry.FromConfig(appCfg.Telemetry, version)
//	tel, err := telemetry.New(ctx, cfg, telemetry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  service_name: "vecsnap"
//	  sampling_rate: 1.0
//	  metrics: true
//
// # Error Handling
//
// Telemetry failures never fail a run. If a provider cannot be created the
// instance is marked degraded and the global no-op providers stay in place.
//
// # Testing
//
// Tests pass in-memory exporters through WithTracerProviderOptions and
// WithMeterProviderOptions:
//
//	exp := tracetest.NewInMemoryExporter()
//	tel, _ := telemetry.New(ctx, cfg,
//	    telemetry.WithTracerProviderOptions(telemetry.WithTraceExporter(exp)))
package telemetry
