package observability

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// TestInitOTel_Disabled tests that InitOTel returns nil when disabled
func TestInitOTel_Disabled(t *testing.T) {
	logger, hook := test.NewNullLogger()

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)

	assert.NoError(t, err)
	assert.Nil(t, providers)
	assert.Equal(t, "telemetry export disabled", hook.LastEntry().Message)
}

func TestShutdownOTel_NilProviders(t *testing.T) {
	logger, hook := test.NewNullLogger()

	assert.NoError(t, ShutdownOTel(context.Background(), nil, logger))
	assert.Empty(t, hook.AllEntries())
}

func TestShutdownOTel_WithProviders(t *testing.T) {
	logger, hook := test.NewNullLogger()
	providers := &OTelProviders{
		TracerProvider: sdktrace.NewTracerProvider(),
		MeterProvider:  metric.NewMeterProvider(),
	}

	require.NoError(t, ShutdownOTel(context.Background(), providers, logger))
	assert.Equal(t, "telemetry flushed", hook.LastEntry().Message)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{1, sdktrace.RecordAndSample},
		{2, sdktrace.RecordAndSample},
		{0, sdktrace.Drop},
		{-1, sdktrace.Drop},
	}

	for _, tt := range tests {
		result := sampler(tt.ratio).ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       trace.TraceID{1},
			Name:          "rbac.Guard.HasPermission",
		})
		assert.Equal(t, tt.want, result.Decision, "ratio %v", tt.ratio)
	}

	// a sampled parent keeps its children regardless of ratio
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	}))
	result := sampler(0).ShouldSample(sdktrace.SamplingParameters{ParentContext: parent, TraceID: trace.TraceID{1}})
	assert.Equal(t, sdktrace.RecordAndSample, result.Decision)
}

func TestWithTraceContext(t *testing.T) {
	logger, hook := test.NewNullLogger()

	WithTraceContext(context.Background(), logger).Info("no span")
	assert.NotContains(t, hook.LastEntry().Data, "trace_id")

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	WithTraceContext(ctx, logger.WithField("keep", "me")).Info("in span")
	span.End()

	entry := hook.LastEntry()
	assert.Equal(t, span.SpanContext().TraceID().String(), entry.Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry.Data["span_id"])
	assert.Equal(t, "me", entry.Data["keep"])
	assert.Len(t, recorder.Ended(), 1)
}
