package ddotel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    endpointKind
		wantErr bool
	}{
		{raw: "stdout", want: endpointStdout},
		{raw: "http://localhost:4318", want: endpointHTTP},
		{raw: "https://collector.internal/v1/traces", want: endpointHTTP},
		{raw: "localhost:4317", want: endpointGRPC},
		{raw: " otel-collector:4317 ", want: endpointGRPC},
		{raw: "ftp://collector:21", wantErr: true},
		{raw: "http://", wantErr: true},
		{raw: "localhost", wantErr: true},
		{raw: ":4317", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ep, err := parseEndpoint(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidEndpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep.kind)
		})
	}
}

func newCollector(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func shutdownContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewTraceProvider(t *testing.T) {
	logger := zap.NewNop()

	t.Run("should return a no-op provider when disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceEnabled = false

		tp, shutdown, err := NewTraceProvider(context.Background(), cfg, logger)

		require.NoError(t, err)
		assert.IsType(t, noop.TracerProvider{}, tp)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("should fail on a malformed endpoint", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceAgentURL = "not an endpoint"

		_, _, err := NewTraceProvider(context.Background(), cfg, logger)

		require.ErrorIs(t, err, ErrInvalidEndpoint)
	})

	tests := []struct {
		name     string
		endpoint func(t *testing.T) string
	}{
		{name: "stdout", endpoint: func(*testing.T) string { return "stdout" }},
		{name: "otlp http", endpoint: func(t *testing.T) string { return newCollector(t).URL }},
		{name: "otlp grpc", endpoint: func(*testing.T) string { return "localhost:4317" }},
	}
	for _, tt := range tests {
		t.Run("should build an "+tt.name+" exporter", func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceAgentURL = tt.endpoint(t)

			tp, shutdown, err := NewTraceProvider(context.Background(), cfg, logger)

			require.NoError(t, err)
			assert.IsType(t, &sdktrace.TracerProvider{}, tp)
			assert.NoError(t, shutdown(shutdownContext(t)))
		})
	}
}

func TestNewMeterProvider(t *testing.T) {
	logger := zap.NewNop()

	t.Run("should return a no-op provider when disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MetricsEnabled = false

		mp, shutdown, err := NewMeterProvider(context.Background(), cfg, logger)

		require.NoError(t, err)
		assert.IsType(t, metricnoop.MeterProvider{}, mp)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("should reject stdout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MetricsAgentURL = "stdout"

		_, _, err := NewMeterProvider(context.Background(), cfg, logger)

		require.ErrorIs(t, err, ErrInvalidEndpoint)
	})

	t.Run("should build an otlp http exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MetricsAgentURL = newCollector(t).URL

		mp, shutdown, err := NewMeterProvider(context.Background(), cfg, logger)

		require.NoError(t, err)
		assert.IsType(t, &sdkmetric.MeterProvider{}, mp)
		assert.NoError(t, shutdown(shutdownContext(t)))
	})
}

func TestNewResource(t *testing.T) {
	cfg := &Config{Service: "settlements", Env: "staging", Version: "3.1.0"}

	res, err := newResource(context.Background(), cfg)
	require.NoError(t, err)

	values := make(map[string]string)
	for _, kv := range res.Attributes() {
		values[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "settlements", values["service.name"])
	assert.Equal(t, "3.1.0", values["service.version"])
	assert.Equal(t, "staging", values["deployment.environment"])
	assert.NotContains(t, values, "container.id")
}

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, span := StartSpan(context.Background())
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Name(), "TestStartSpan")
}
