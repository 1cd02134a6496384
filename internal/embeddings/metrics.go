package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/vecsnap/internal/embeddings"

// Metrics holds embedding generation instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	chunks   metric.Int64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for embeddings.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"vecsnap.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation in seconds, labeled by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Chunks per long-text embedding. Values above 1 mean inputs exceeded
	// the token budget.
	m.chunks, err = m.meter.Int64Histogram(
		"vecsnap.embedding.chunks",
		metric.WithDescription("Number of token-bounded chunks per embedded text"),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10, 25, 50),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"vecsnap.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordGeneration records embedding generation metrics.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, chunks int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if chunks > 0 && m.chunks != nil {
		m.chunks.Record(ctx, int64(chunks), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
