package ddotel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	api "go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrInvalidEndpoint is returned when a collector endpoint cannot be parsed.
var ErrInvalidEndpoint = errors.New("invalid collector endpoint")

// ShutdownFunc flushes and stops a provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

type endpointKind int

const (
	endpointGRPC endpointKind = iota
	endpointHTTP
	endpointStdout
)

type endpoint struct {
	kind   endpointKind
	target string
}

// parseEndpoint classifies a collector endpoint: "stdout", an http(s) URL or
// a gRPC host:port.
func parseEndpoint(raw string) (endpoint, error) {
	raw = strings.TrimSpace(raw)

	if raw == "stdout" {
		return endpoint{kind: endpointStdout}, nil
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return endpoint{}, fmt.Errorf("%w %q: %v", ErrInvalidEndpoint, raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return endpoint{}, fmt.Errorf("%w %q: want http(s)://host:port", ErrInvalidEndpoint, raw)
		}
		return endpoint{kind: endpointHTTP, target: raw}, nil
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil || host == "" || port == "" {
		return endpoint{}, fmt.Errorf("%w %q: want host:port", ErrInvalidEndpoint, raw)
	}
	return endpoint{kind: endpointGRPC, target: raw}, nil
}

// dialCollector opens an insecure gRPC client connection to an OpenTelemetry
// Collector or Datadog agent. The connection is established lazily.
func dialCollector(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}

// newResource builds the Resource describing the service:
//
//   - service.name, service.version, deployment.environment from cfg
//   - container.id when a container platform is configured and the lookup
//     succeeds
//   - host.* via resource.WithHost()
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.Service),
		semconv.ServiceVersionKey.String(cfg.Version),
		semconv.DeploymentEnvironmentKey.String(cfg.Env),
	)

	opts := []resource.Option{attrs, resource.WithHost()}
	if id := ContainerID(cfg.ContainerPlatform); id != "" {
		opts = append(opts, resource.WithAttributes(semconv.ContainerIDKey.String(id)))
	}

	return resource.New(ctx, opts...)
}

// NewTraceProvider builds a TracerProvider exporting to cfg.TraceAgentURL.
//
// It configures:
//
//   - a parent-based sampler keeping cfg.TraceSampleRate of root traces
//   - a BatchSpanProcessor, so spans are exported asynchronously
//   - an OTLP gRPC, OTLP HTTP or stdout exporter depending on the endpoint
//   - the service Resource (see newResource)
//
// When tracing is disabled a no-op provider is returned, so middleware keeps
// working as a pass-through. A malformed endpoint is an error; callers are
// expected to fail fast on it rather than run unobserved.
//
// The provider is not installed globally; see Init.
func NewTraceProvider(ctx context.Context, cfg *Config, logger *zap.Logger) (trace.TracerProvider, ShutdownFunc, error) {
	if !cfg.IsTracingEnabled() {
		logger.Info("trace export disabled")
		return noop.NewTracerProvider(), noopShutdown, nil
	}

	ep, err := parseEndpoint(cfg.TraceAgentURL)
	if err != nil {
		return nil, nil, err
	}

	var (
		exporter sdktrace.SpanExporter
		conn     *grpc.ClientConn
	)
	switch ep.kind {
	case endpointStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case endpointHTTP:
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(ep.target))
	case endpointGRPC:
		conn, err = dialCollector(ep.target)
		if err != nil {
			return nil, nil, err
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRate))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)

	logger.Info("trace export enabled", zap.String("endpoint", cfg.TraceAgentURL))

	shutdown := func(ctx context.Context) error {
		// Flushes pending spans before the connection goes away.
		err := tp.Shutdown(ctx)
		if conn != nil {
			err = errors.Join(err, conn.Close())
		}
		return err
	}

	return tp, shutdown, nil
}

// NewMeterProvider builds a MeterProvider exporting to cfg.MetricsAgentURL
// with a PeriodicReader. It returns a no-op provider when metrics are
// disabled and an error for a malformed endpoint.
func NewMeterProvider(ctx context.Context, cfg *Config, logger *zap.Logger) (api.MeterProvider, ShutdownFunc, error) {
	if !cfg.IsMetricsEnabled() {
		logger.Info("metric export disabled")
		return metricnoop.NewMeterProvider(), noopShutdown, nil
	}

	ep, err := parseEndpoint(cfg.MetricsAgentURL)
	if err != nil {
		return nil, nil, err
	}

	var (
		exporter sdkmetric.Exporter
		conn     *grpc.ClientConn
	)
	switch ep.kind {
	case endpointHTTP:
		exporter, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(ep.target))
	case endpointGRPC:
		conn, err = dialCollector(ep.target)
		if err != nil {
			return nil, nil, err
		}
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	default:
		return nil, nil, fmt.Errorf("%w %q: metrics need an OTLP endpoint", ErrInvalidEndpoint, cfg.MetricsAgentURL)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	logger.Info("metric export enabled", zap.String("endpoint", cfg.MetricsAgentURL))

	shutdown := func(ctx context.Context) error {
		err := mp.Shutdown(ctx)
		if conn != nil {
			err = errors.Join(err, conn.Close())
		}
		return err
	}

	return mp, shutdown, nil
}

// StartSpan creates a new span using the globally registered tracer.
//
// The span is named after the calling function and line number, which is
// handy for internal code paths where naming every span would be verbose.
// For API-level or logical spans, prefer explicit names:
//
//	ctx, span := otel.Tracer("payments").Start(ctx, "settlement.compute")
//
// Example:
//
//	ctx, span := ddotel.StartSpan(ctx)
//	defer span.End()
func StartSpan(ctx context.Context, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	name := "unknown"
	if pc, _, line, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fmt.Sprintf("%s:%d", fn.Name(), line)
		}
	}

	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}
