package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterProvider wraps an OpenTelemetry metrics pipeline that publishes
// through the default Prometheus registry (pkg/metrics.Handler already
// serves it), giving components that prefer the otel metrics API the same
// /metrics exposition as the hand-registered prometheus.CounterVec/GaugeVec
// instruments in pkg/metrics.
type MeterProvider struct {
	mp *sdkmetric.MeterProvider
}

// InitMetrics builds and registers the global MeterProvider with a
// Prometheus exporter reader.
func InitMetrics() (*MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return &MeterProvider{mp: mp}, nil
}

// Shutdown stops the meter provider.
func (m *MeterProvider) Shutdown(ctx context.Context) error {
	if m == nil || m.mp == nil {
		return nil
	}
	return m.mp.Shutdown(ctx)
}

// ComponentMetrics records total/error/duration instruments for one
// component's operations, the otel-metrics analogue of pkg/metrics'
// hand-rolled CounterVec/HistogramVec pairs.
type ComponentMetrics struct {
	total    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewComponentMetrics builds instruments named after component (e.g.
// "orchestrator", "stream", "slo").
func NewComponentMetrics(component string) (*ComponentMetrics, error) {
	meter := otel.Meter(component)

	total, err := meter.Int64Counter(
		component+".operations.total",
		metric.WithDescription("Total operations executed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter(
		component+".operations.errors",
		metric.WithDescription("Total operation failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		component+".operation.duration_ms",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &ComponentMetrics{total: total, errors: errs, duration: duration}, nil
}

// RecordOperation records one call to operation, its duration, and whether
// it failed.
func (m *ComponentMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.total.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
