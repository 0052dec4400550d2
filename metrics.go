package ddotel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Names of the request instruments recorded by the middleware.
const (
	MetricRequestsTotal   = "http_requests_total"
	MetricRequestDuration = "http_request_duration_seconds"
)

// Metrics is a fire-and-forget client for submitting metrics.
//
// Every measurement carries the static service, env and version tags.
// Instruments are created on first use and cached; a name that cannot be
// turned into an instrument is logged once and its measurements dropped.
// Metrics is safe for concurrent use and meant to be created once per
// process and passed to whoever needs it.
//
//	metrics.Count(ctx, "payments.captured", 1, attribute.String("currency", "JPY"))
//	metrics.Histogram(ctx, "payments.amount", 1200)
type Metrics struct {
	meter    api.Meter
	logger   *zap.Logger
	defaults []attribute.KeyValue

	// RequestCounter and RequestHistogram back the per-request metrics
	// recorded by Middleware and the gRPC interceptors.
	RequestCounter   api.Int64Counter
	RequestHistogram api.Float64Histogram

	counters   sync.Map // name -> api.Int64Counter
	gauges     sync.Map // name -> api.Float64Gauge
	histograms sync.Map // name -> api.Float64Histogram
	failed     sync.Map // name -> struct{}
}

// NewMetrics creates the client from a meter provider.
func NewMetrics(mp api.MeterProvider, cfg *Config, logger *zap.Logger) (*Metrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := mp.Meter(instrumentationName)

	counter, err := meter.Int64Counter(
		MetricRequestsTotal,
		api.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	histogram, err := meter.Float64Histogram(
		MetricRequestDuration,
		api.WithDescription("HTTP request duration in seconds"),
		api.WithUnit("s"),
		api.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1,
			0.2, 0.3, 0.4, 0.5, 0.75,
			1.0, 2.0, 5.0, 10.0,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}

	return &Metrics{
		meter:  meter,
		logger: logger,
		defaults: []attribute.KeyValue{
			attribute.String("service", cfg.Service),
			attribute.String("env", cfg.Env),
			attribute.String("version", cfg.Version),
		},
		RequestCounter:   counter,
		RequestHistogram: histogram,
	}, nil
}

// Count adds value to the counter called name.
func (m *Metrics) Count(ctx context.Context, name string, value int64, tags ...attribute.KeyValue) {
	counter, ok := cachedInstrument(m, &m.counters, name, func(name string) (api.Int64Counter, error) {
		return m.meter.Int64Counter(name)
	})
	if !ok {
		return
	}
	counter.Add(ctx, value, api.WithAttributes(m.tags(tags)...))
}

// Gauge records the current value of the gauge called name.
func (m *Metrics) Gauge(ctx context.Context, name string, value float64, tags ...attribute.KeyValue) {
	gauge, ok := cachedInstrument(m, &m.gauges, name, func(name string) (api.Float64Gauge, error) {
		return m.meter.Float64Gauge(name)
	})
	if !ok {
		return
	}
	gauge.Record(ctx, value, api.WithAttributes(m.tags(tags)...))
}

// Histogram records value in the distribution called name.
func (m *Metrics) Histogram(ctx context.Context, name string, value float64, tags ...attribute.KeyValue) {
	histogram, ok := cachedInstrument(m, &m.histograms, name, func(name string) (api.Float64Histogram, error) {
		return m.meter.Float64Histogram(name)
	})
	if !ok {
		return
	}
	histogram.Record(ctx, value, api.WithAttributes(m.tags(tags)...))
}

// Timing records the duration since start, in seconds, in the distribution
// called name.
func (m *Metrics) Timing(ctx context.Context, name string, start time.Time, tags ...attribute.KeyValue) {
	m.Histogram(ctx, name, time.Since(start).Seconds(), tags...)
}

func (m *Metrics) recordRequest(ctx context.Context, method, resource string, status int, duration time.Duration) {
	opt := api.WithAttributes(m.tags([]attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("resource", resource),
		attribute.Int("status_code", status),
	})...)

	m.RequestCounter.Add(ctx, 1, opt)
	m.RequestHistogram.Record(ctx, duration.Seconds(), opt)
}

func (m *Metrics) tags(extra []attribute.KeyValue) []attribute.KeyValue {
	tags := make([]attribute.KeyValue, 0, len(m.defaults)+len(extra))
	tags = append(tags, m.defaults...)
	return append(tags, extra...)
}

func cachedInstrument[T any](m *Metrics, cache *sync.Map, name string, create func(string) (T, error)) (T, bool) {
	if v, ok := cache.Load(name); ok {
		return v.(T), true
	}

	var zero T
	if _, failed := m.failed.Load(name); failed {
		return zero, false
	}

	inst, err := create(name)
	if err != nil {
		if _, loaded := m.failed.LoadOrStore(name, struct{}{}); !loaded {
			m.logger.Warn("dropping metric", zap.String("metric", name), zap.Error(err))
		}
		return zero, false
	}

	v, _ := cache.LoadOrStore(name, inst)
	return v.(T), true
}
