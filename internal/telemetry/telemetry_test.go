package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Equal(t, otel.GetTracerProvider(), tel.TracerProvider())
	assert.Equal(t, otel.GetMeterProvider(), tel.MeterProvider())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
}

func TestTelemetry_SpansCarryResource(t *testing.T) {
	tel := NewTestTelemetry()
	defer func() { _ = tel.Shutdown(context.Background()) }()
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("vecfs-test").Start(context.Background(), "vectorfs.save_resource")
	span.SetAttributes(attribute.String("vecfs.path", "/docs/a"), attribute.Int("vecfs.nodes", 3))
	span.End()

	tel.AssertSpanExists(t, "vectorfs.save_resource")
	tel.AssertSpanAttribute(t, "vectorfs.save_resource", "vecfs.path", "/docs/a")
	tel.AssertSpanAttribute(t, "vectorfs.save_resource", "vecfs.nodes", int64(3))

	got := tel.SpanByName("vectorfs.save_resource").Resource()
	name, ok := got.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "vecfs", name.AsString())
}

func TestTelemetry_Metrics(t *testing.T) {
	tel := NewTestTelemetry()
	defer func() { _ = tel.Shutdown(context.Background()) }()
	ctx := context.Background()

	counter, err := tel.Meter("vecfs-test").Int64Counter("vecfs.test.calls")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)

	rm, err := tel.Collect(ctx)
	require.NoError(t, err)
	m, ok := Metric(rm, "vecfs.test.calls")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(5), sum.DataPoints[0].Value)

	_, ok = Metric(rm, "vecfs.missing")
	assert.False(t, ok)
}

func TestTelemetry_MetricsDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false
	rec := tracetest.NewSpanRecorder()

	tel, err := New(context.Background(), cfg, WithSpanProcessor(rec))
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	assert.Equal(t, otel.GetMeterProvider(), tel.MeterProvider())
	assert.NotEqual(t, otel.GetTracerProvider(), tel.TracerProvider())
}

func TestTelemetry_TraceExporterAndSampling(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false
	cfg.Sampling.Rate = 0
	exp := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, WithTraceExporter(exp))
	require.NoError(t, err)

	_, span := tel.Tracer("t").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Empty(t, exp.GetSpans())

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_WithGlobal(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		otel.SetTextMapPropagator(prevProp)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	rec := tracetest.NewSpanRecorder()
	tel, err := New(context.Background(), cfg, WithGlobal(), WithSpanProcessor(rec), WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	_, span := otel.Tracer("global").Start(context.Background(), "through-global")
	span.End()
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "through-global", rec.Ended()[0].Name())
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.5).Description(), "TraceIDRatioBased")

	var _ sdktrace.Sampler = newSampler(0.5)
}
