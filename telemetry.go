package ddotel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrAlreadyInitialized is returned by Init after a successful first call.
var ErrAlreadyInitialized = errors.New("telemetry already initialized")

// Telemetry bundles the clients a service needs: logger, tracer and meter
// providers, propagator and metrics client.
//
// Build one with New and pass it (or its fields) to the components that need
// them. Init additionally installs it as the process-wide default.
type Telemetry struct {
	Config         *Config
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  api.MeterProvider
	Propagator     *Propagator
	Metrics        *Metrics

	shutdowns []ShutdownFunc
}

// New builds a Telemetry from cfg without touching global state.
// Configuration errors are returned; callers should treat them as fatal.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	propagator, err := NewPropagator(cfg.Propagation...)
	if err != nil {
		return nil, err
	}

	tp, shutdownTraces, err := NewTraceProvider(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	mp, shutdownMetrics, err := NewMeterProvider(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTraces(ctx)
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	metrics, err := NewMetrics(mp, cfg, logger)
	if err != nil {
		_ = shutdownTraces(ctx)
		_ = shutdownMetrics(ctx)
		return nil, err
	}

	return &Telemetry{
		Config:         cfg,
		Logger:         logger,
		TracerProvider: tp,
		MeterProvider:  mp,
		Propagator:     propagator,
		Metrics:        metrics,
		shutdowns:      []ShutdownFunc{shutdownTraces, shutdownMetrics},
	}, nil
}

// Middleware returns an HTTP tracing middleware wired to t. opts are applied
// after t's own settings.
func (t *Telemetry) Middleware(opts ...Option) *Middleware {
	base := []Option{
		WithTracerProvider(t.TracerProvider),
		WithPropagator(t.Propagator),
		WithMetrics(t.Metrics),
		WithLogger(t.Logger),
	}
	return NewMiddleware(append(base, opts...)...)
}

// Shutdown flushes pending spans and metrics and stops the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, shutdown := range t.shutdowns {
		err = errors.Join(err, shutdown(ctx))
	}
	_ = t.Logger.Sync()
	return err
}

// install registers t as the OpenTelemetry global provider, propagator and
// error handler. Export errors are logged and never reach request handling.
func (t *Telemetry) install() {
	otel.SetTracerProvider(t.TracerProvider)
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTextMapPropagator(t.Propagator)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		t.Logger.Warn("telemetry export failed", zap.Error(err))
	}))
}

var (
	globalMu sync.Mutex
	global   *Telemetry
)

// Init builds a Telemetry from cfg and installs it process-wide: it becomes
// the OpenTelemetry global and is returned by Global.
//
// Call it once at startup, before serving requests:
//
//	cfg, err := ddotel.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	tel, err := ddotel.Init(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Only the first successful call has an effect; later calls return
// ErrAlreadyInitialized.
func Init(ctx context.Context, cfg *Config) (*Telemetry, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		return nil, ErrAlreadyInitialized
	}

	t, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	t.install()
	global = t
	return t, nil
}

// Global returns the Telemetry installed by Init, or nil.
func Global() *Telemetry {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}
