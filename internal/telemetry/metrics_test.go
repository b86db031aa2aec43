package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEvaluator(ctx, "Market Analyst", 0.4, false)
	m.RecordEvaluator(ctx, "Risk Assessor", 2.0, true)
	m.RecordDecision(ctx, true)
	m.RecordDecision(ctx, false)
	m.RecordDecision(ctx, false)
	m.RecordSettlement(ctx, "simulated", 1.5, false)

	got := collect(t, reader)

	failures, ok := got["cardpay.evaluator.failures"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	assert.Equal(t, int64(1), failures.DataPoints[0].Value)

	decisions, ok := got["cardpay.consensus.decisions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range decisions.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, decisions.DataPoints, 2)

	hist, ok := got["cardpay.evaluator.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)

	settle, ok := got["cardpay.settlement.failures"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), settle.DataPoints[0].Value)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEvaluator(context.Background(), "x", 1, true)
		m.RecordDecision(context.Background(), true)
		m.RecordSettlement(context.Background(), "x", 1, false)
	})
}

func TestDefaultMetricsWithoutInit(t *testing.T) {
	m := DefaultMetrics()
	require.NotNil(t, m)
	assert.NotPanics(t, func() { m.RecordDecision(context.Background(), true) })
}
