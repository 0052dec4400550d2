package ddotel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestPathGroup(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "documented example", path: "/api/v1/merchants/abc123/settlements", want: "/api/v1/merchants/?/settlements"},
		{name: "empty path", path: "", want: ""},
		{name: "root", path: "/", want: "/"},
		{name: "version segments", path: "/v1/v2/v3", want: "/v1/v2/v3"},
		{name: "version with suffix", path: "/v2b/x", want: "/?/x"},
		{name: "numeric id", path: "/merchants/123", want: "/merchants/?"},
		{name: "uuid", path: "/users/c5b7b233-ca3d-4879-b55e-3d8e655fd044/roles", want: "/users/?/roles"},
		{name: "trailing slash", path: "/merchants/42/", want: "/merchants/?/"},
		{name: "double slash", path: "/a//b", want: "/a//b"},
		{name: "relative path", path: "a/1/b", want: "a/?/b"},
		{name: "bare v", path: "/v/x", want: "/v/x"},
		{name: "version then letters", path: "/v123abc", want: "/?"},
		{name: "uppercase version", path: "/V1/x", want: "/?/x"},
		{name: "already templated", path: "/merchants/?/settlements", want: "/merchants/?/settlements"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PathGroup(tt.path))
		})
	}
}

func TestPathGroupProperties(t *testing.T) {
	paths := []string{
		"", "/", "//", "/api/v1/merchants/abc123/settlements", "/v2b/x",
		"/users/0/../1", "/a/b/c/", "no-slash", "v1", "/x1/y2/z3", "///9//",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			once := PathGroup(path)
			assert.Equal(t, once, PathGroup(once), "idempotent")
			assert.Equal(t, strings.Count(path, "/"), strings.Count(once, "/"), "same segment count")
			assert.Equal(t, once, PathGroup(path), "deterministic")
		})
	}
}

func TestIsStaticSegment(t *testing.T) {
	assert.True(t, isStaticSegment(""))
	assert.True(t, isStaticSegment("v1"))
	assert.True(t, isStaticSegment("api"))
	assert.False(t, isStaticSegment("abc123"))
	assert.False(t, isStaticSegment("v123abc"))
	assert.False(t, isStaticSegment("v2b"))
	assert.False(t, isStaticSegment("123"))
}

func TestInjectHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	p, err := NewPropagator()
	require.NoError(t, err)
	otel.SetTextMapPropagator(p)

	t.Run("should write nothing without a span", func(t *testing.T) {
		headers := http.Header{}
		InjectHeaders(context.Background(), headers)
		assert.Empty(t, headers)
	})

	t.Run("should write the current span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		ctx, span := tp.Tracer("test").Start(context.Background(), "outgoing")
		defer span.End()

		headers := http.Header{}
		InjectHeaders(ctx, headers)

		assert.NotEmpty(t, headers.Get("traceparent"))
		assert.NotEmpty(t, headers.Get(DatadogTraceIDHeader))

		extracted := ExtractHeaders(context.Background(), headers)
		assert.Equal(t, span.SpanContext().TraceID(), traceIDFrom(extracted))
	})
}

func TestDoRequest(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	p, err := NewPropagator()
	require.NoError(t, err)
	otel.SetTextMapPropagator(p)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)

	var received trace.SpanContext
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = trace.SpanContextFromContext(p.Extract(r.Context(), propagation.HeaderCarrier(r.Header)))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ctx, span := tp.Tracer("test").Start(context.Background(), "checkout")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/merchants/1", nil)
	require.NoError(t, err)

	resp, err := DoRequest(ctx, req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, span.SpanContext().TraceID(), received.TraceID())
	assert.NotEmpty(t, req.Header.Get(DatadogTraceIDHeader))

	ended := recorder.Ended()
	require.Len(t, ended, 1, "expected the client span")
	assert.Equal(t, trace.SpanKindClient, ended[0].SpanKind())
	assert.Equal(t, span.SpanContext().SpanID(), ended[0].Parent().SpanID())
}
