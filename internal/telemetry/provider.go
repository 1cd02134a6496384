package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

// newResource creates a resource describing the service.
func newResource(cfg *Config) (*resource.Resource, error) {
	// Create resource with service attributes
	// Note: We create a standalone resource to avoid schema URL conflicts
	// with resource.Default() which uses a different semconv version
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	), nil
}

// newTracerProvider creates a TracerProvider with an OTLP exporter, or with
// the exporter given by WithTraceExporter.
func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, popts ...TracerProviderOption) (*trace.TracerProvider, error) {
	var o tracerProviderOptions
	for _, opt := range popts {
		opt(&o)
	}
	exporter := o.exporter
	var err error

	// Choose exporter based on protocol
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolGRPC
	}

	switch {
	case exporter != nil:
	case protocol == ProtocolHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}

	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	var sampler trace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = trace.AlwaysSample()
	case cfg.SamplingRate <= 0:
		sampler = trace.NeverSample()
	default:
		sampler = trace.TraceIDRatioBased(cfg.SamplingRate)
	}

	// Wrap with parent-based sampler for proper context propagation
	sampler = trace.ParentBased(sampler)

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler),
	)

	return tp, nil
}

// newMeterProvider creates a MeterProvider with an OTLP exporter. It
// returns nil when OTLP metrics are disabled.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, popts ...MeterProviderOption) (*metric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	var o meterProviderOptions
	for _, opt := range popts {
		opt(&o)
	}
	exporter := o.exporter
	var err error

	// Choose exporter based on protocol
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolGRPC
	}

	// Cumulative temporality keeps OTLP series compatible with the
	// Prometheus series scraped from /metrics.
	cumulativeSelector := func(metric.InstrumentKind) metricdata.Temporality {
		return metricdata.CumulativeTemporality
	}

	switch {
	case exporter != nil:
	case protocol == ProtocolHTTP:
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlpmetrichttp.WithTemporalitySelector(cumulativeSelector),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	default:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithTemporalitySelector(cumulativeSelector),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		} else {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	}

	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(
			metric.NewPeriodicReader(
				exporter,
				metric.WithInterval(cfg.Metrics.ExportInterval.Duration()),
			),
		),
	)

	return mp, nil
}

// stripScheme removes http:// or https:// from an endpoint URL.
// The OTEL HTTP exporters expect just host:port, not full URLs.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}

// TracerProviderOption configures TracerProvider creation.
type TracerProviderOption func(*tracerProviderOptions)

type tracerProviderOptions struct {
	exporter trace.SpanExporter
}

// WithTraceExporter overrides the default OTLP exporter (for testing).
func WithTraceExporter(exp trace.SpanExporter) TracerProviderOption {
	return func(opts *tracerProviderOptions) {
		opts.exporter = exp
	}
}

// MeterProviderOption configures MeterProvider creation.
type MeterProviderOption func(*meterProviderOptions)

type meterProviderOptions struct {
	exporter metric.Exporter
}

// WithMetricExporter overrides the default OTLP exporter (for testing).
func WithMetricExporter(exp metric.Exporter) MeterProviderOption {
	return func(opts *meterProviderOptions) {
		opts.exporter = exp
	}
}
