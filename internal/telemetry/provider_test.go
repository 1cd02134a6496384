package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()

	res, err := newResource(cfg)
	require.NoError(t, err)
	require.NotNil(t, res)

	var foundServiceName bool
	for _, attr := range res.Attributes() {
		if string(attr.Key) == "service.name" {
			assert.Equal(t, cfg.ServiceName, attr.Value.AsString())
			foundServiceName = true
		}
	}
	assert.True(t, foundServiceName, "service.name attribute not found")
}

func TestNew_WithTraceExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	exporter := tracetest.NewInMemoryExporter()
	tel, err := New(context.Background(), cfg,
		WithTracerProviderOptions(WithTraceExporter(exporter)))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)

	// New installs the provider globally.
	_, span := otel.Tracer("vecsnap.pipeline").Start(context.Background(), "Pipeline.Run")
	span.End()

	require.NoError(t, tel.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Pipeline.Run", spans[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestMeterProvider_DisabledReturnsNil(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Metrics.Enabled = false

	res, err := newResource(cfg)
	require.NoError(t, err)
	mp, err := newMeterProvider(context.Background(), cfg, res)
	require.NoError(t, err)
	assert.Nil(t, mp)
}
