package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/davidbz/conductor"

// MetricsConfig controls the OTLP metric exporter. An empty endpoint disables export.
type MetricsConfig struct {
	Endpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	ServiceName string        `env:"OTEL_SERVICE_NAME"           envDefault:"conductor"`
	Interval    time.Duration `env:"OTEL_METRIC_INTERVAL"        envDefault:"15s"`
}

// Shutdown flushes and stops a meter provider.
type Shutdown func(ctx context.Context) error

type instrumentSet struct {
	selections      metric.Int64Counter
	selectionErrors metric.Int64Counter
	breakerEvents   metric.Int64Counter
	cacheLookups    metric.Int64Counter
	providerCalls   metric.Int64Counter
	costUSD         metric.Float64Counter
}

//nolint:gochecknoglobals // Instruments are process-wide like the logger
var (
	current     atomic.Pointer[instrumentSet]
	defaultOnce sync.Once
)

func newInstrumentSet(provider metric.MeterProvider) (*instrumentSet, error) {
	meter := provider.Meter(meterName)
	var set instrumentSet
	var err, errs error

	set.selections, err = meter.Int64Counter("conductor.selections",
		metric.WithDescription("Model selections by strategy and chosen model"))
	errs = errors.Join(errs, err)
	set.selectionErrors, err = meter.Int64Counter("conductor.selection_errors",
		metric.WithDescription("Selections that returned no model"))
	errs = errors.Join(errs, err)
	set.breakerEvents, err = meter.Int64Counter("conductor.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"))
	errs = errors.Join(errs, err)
	set.cacheLookups, err = meter.Int64Counter("conductor.embedding_cache.lookups",
		metric.WithDescription("Embedding cache lookups by result"))
	errs = errors.Join(errs, err)
	set.providerCalls, err = meter.Int64Counter("conductor.provider.calls",
		metric.WithDescription("Provider invocations by outcome"))
	errs = errors.Join(errs, err)
	set.costUSD, err = meter.Float64Counter("conductor.cost_usd",
		metric.WithDescription("Billable cost recorded"), metric.WithUnit("USD"))
	errs = errors.Join(errs, err)

	if errs != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", errs)
	}
	return &set, nil
}

// UseMeterProvider binds every counter to provider.
func UseMeterProvider(provider metric.MeterProvider) error {
	set, err := newInstrumentSet(provider)
	if err != nil {
		return err
	}
	current.Store(set)
	return nil
}

// InitMetrics installs an OTLP/HTTP meter provider as the global provider and binds the
// counters to it. With no endpoint the counters stay on the global no-op provider.
func InitMetrics(ctx context.Context, cfg *MetricsConfig) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if cfg == nil || cfg.Endpoint == "" {
		return noop, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	if err := UseMeterProvider(provider); err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	FromContext(ctx).Info("exporting metrics", String("endpoint", cfg.Endpoint))
	return provider.Shutdown, nil
}

func instruments() *instrumentSet {
	if set := current.Load(); set != nil {
		return set
	}
	defaultOnce.Do(func() {
		if err := UseMeterProvider(otel.GetMeterProvider()); err != nil {
			getBaseLogger().Error("metrics disabled", Error(err))
		}
	})
	return current.Load()
}

// RecordSelection counts a successful selection.
func RecordSelection(ctx context.Context, strategy, model string) {
	if set := instruments(); set != nil {
		set.selections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("model", model),
		))
	}
}

// RecordSelectionError counts a selection that failed with the given reason.
func RecordSelectionError(ctx context.Context, taskType, reason string) {
	if set := instruments(); set != nil {
		set.selectionErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task_type", taskType),
			attribute.String("reason", reason),
		))
	}
}

// RecordBreakerTransition counts a breaker state change.
func RecordBreakerTransition(ctx context.Context, model, from, to string) {
	if set := instruments(); set != nil {
		set.breakerEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}

// RecordCacheLookup counts an embedding cache hit or miss.
func RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	if set := instruments(); set != nil {
		set.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// RecordProviderCall counts a provider invocation.
func RecordProviderCall(ctx context.Context, model string, success bool) {
	if set := instruments(); set != nil {
		set.providerCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.Bool("success", success),
		))
	}
}

// RecordCost adds billable cost for a model.
func RecordCost(ctx context.Context, model string, usd float64) {
	if set := instruments(); set != nil {
		set.costUSD.Add(ctx, usd, metric.WithAttributes(attribute.String("model", model)))
	}
}
