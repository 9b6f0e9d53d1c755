package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTelDisabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestTracerBeforeInit(t *testing.T) {
	_, span := Tracer("search.service").Start(context.Background(), "Search")
	defer span.End()
	assert.False(t, span.IsRecording(), "global no-op tracer")
}

func TestOTelConfigSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := OTelConfig{SampleRatio: tt.ratio}.sampler().Description()
		assert.Contains(t, desc, tt.want)
	}
}

func TestOTelConfigAttributes(t *testing.T) {
	attrs := OTelConfig{ServiceName: "ppdo-search", ServiceVersion: "1.2.0"}.attributes()
	assert.Len(t, attrs, 2)

	attrs = OTelConfig{ServiceName: "ppdo-search", Environment: "staging"}.attributes()
	require.Len(t, attrs, 3)
	assert.Equal(t, "deployment.environment", string(attrs[2].Key))
	assert.Equal(t, "staging", attrs[2].Value.AsString())
}

func TestShutdownOTel(t *testing.T) {
	require.NoError(t, ShutdownOTel(context.Background(), nil, NopLogger()))

	providers := &OTelProviders{
		TracerProvider: sdktrace.NewTracerProvider(),
		MeterProvider:  sdkmetric.NewMeterProvider(),
	}
	require.NoError(t, ShutdownOTel(context.Background(), providers, NopLogger()))
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("no span", func(t *testing.T) {
		assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
	})

	t.Run("recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())

		ctx, span := tp.Tracer("test").Start(context.Background(), "Reindex")
		defer span.End()

		buf.Reset()
		UpdateLoggerWithTraceContext(ctx, logger).Info("traced")
		entry := decodeLine(t, &buf)
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})
}
