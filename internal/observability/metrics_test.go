package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/davidbz/conductor/internal/observability"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func intTotal(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	var total int64
	for _, point := range sum.DataPoints {
		total += point.Value
	}
	return total
}

func TestRecord_ReachesMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, observability.UseMeterProvider(provider))
	t.Cleanup(func() {
		require.NoError(t, observability.UseMeterProvider(noop.NewMeterProvider()))
	})

	ctx := context.Background()
	observability.RecordSelection(ctx, "balanced", "gpt-4o-mini")
	observability.RecordSelection(ctx, "cost_optimized", "gpt-4o-mini")
	observability.RecordSelectionError(ctx, "cv_generation", "budget_exceeded")
	observability.RecordBreakerTransition(ctx, "gpt-4o", "closed", "open")
	observability.RecordCacheLookup(ctx, true)
	observability.RecordCacheLookup(ctx, false)
	observability.RecordCacheLookup(ctx, false)
	observability.RecordProviderCall(ctx, "gpt-4o", false)
	observability.RecordCost(ctx, "gpt-4o-mini", 0.25)
	observability.RecordCost(ctx, "gpt-4o-mini", 0.5)

	metrics := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{name: "conductor.selections", want: 2},
		{name: "conductor.selection_errors", want: 1},
		{name: "conductor.breaker.transitions", want: 1},
		{name: "conductor.embedding_cache.lookups", want: 3},
		{name: "conductor.provider.calls", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok := metrics[tt.name]
			require.True(t, ok, "metric %s not exported", tt.name)
			require.Equal(t, tt.want, intTotal(t, data))
		})
	}

	t.Run("cache lookups are split by result", func(t *testing.T) {
		sum := metrics["conductor.embedding_cache.lookups"].(metricdata.Sum[int64])
		byResult := make(map[string]int64)
		for _, point := range sum.DataPoints {
			result, _ := point.Attributes.Value("result")
			byResult[result.AsString()] = point.Value
		}
		require.Equal(t, map[string]int64{"hit": 1, "miss": 2}, byResult)
	})

	t.Run("cost is a float sum", func(t *testing.T) {
		sum, ok := metrics["conductor.cost_usd"].(metricdata.Sum[float64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		require.InDelta(t, 0.75, sum.DataPoints[0].Value, 1e-9)
	})
}

func TestInitMetrics_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := observability.InitMetrics(context.Background(), &observability.MetricsConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	shutdown, err = observability.InitMetrics(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
