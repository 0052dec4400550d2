package ddotel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// OperationHTTP is the span name of requests traced by Middleware.
	OperationHTTP = "http.request"

	instrumentationName = "github.com/edr3x/ddotel"
)

// Middleware traces inbound HTTP requests.
//
// For every request it creates a server span, continues the caller's trace
// from the propagation headers, records the matched route and finally the
// response status or the handler's failure. The span is finished exactly
// once on every path, including panics, and the wrapped handler's behaviour
// is left untouched: errors and panics reach the caller unchanged.
type Middleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	routes     RouteResolver
	metrics    *Metrics
	logger     *zap.Logger
	operation  string
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithTracerProvider sets the provider spans are created from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Middleware) {
		m.tracer = tp.Tracer(instrumentationName)
	}
}

// WithPropagator sets the propagator inbound headers are read with.
// Defaults to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(m *Middleware) {
		m.propagator = p
	}
}

// WithRouteResolver sets how the matched route is looked up. Defaults to
// DefaultRouteResolver().
func WithRouteResolver(resolve RouteResolver) Option {
	return func(m *Middleware) {
		m.routes = resolve
	}
}

// WithMetrics records request count and latency for every request.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// WithLogger sets the logger tracing failures are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithOperationName overrides the span name.
func WithOperationName(name string) Option {
	return func(m *Middleware) {
		m.operation = name
	}
}

// NewMiddleware creates a Middleware.
//
// Example:
//
//	mw := ddotel.NewMiddleware(ddotel.WithLogger(logger))
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /merchants/{id}", mw.Handler(merchantHandler))
//	http.ListenAndServe(":8080", mux)
//
// When tracing is disabled the global provider is a no-op and the
// middleware simply passes requests through.
func NewMiddleware(opts ...Option) *Middleware {
	m := &Middleware{
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
		routes:     DefaultRouteResolver(),
		logger:     zap.NewNop(),
		operation:  OperationHTTP,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandlerFunc is an HTTP handler that reports failure as an error, in the
// style of echo or gin handlers.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Start begins tracing r. It returns a request carrying the span in its
// context, which must be passed on to the handler, and the span to Finish
// once the request completes.
//
// Start is for handlers that complete outside the call that received the
// request. Goroutines started with the returned request's context are
// attributed to the span without further work.
func (m *Middleware) Start(r *http.Request) (*http.Request, *RequestSpan) {
	return m.start(r, m.routes(r))
}

func (m *Middleware) start(r *http.Request, route string) (*http.Request, *RequestSpan) {
	ctx, span := m.startRequestSpan(r, route)
	r = r.WithContext(ctx)
	span.req = r
	return r, span
}

// Handler wraps next. A panic in next, or a request context cancelled
// before next returns, is recorded as a failure; the panic is re-raised
// after the span is finished.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		_ = m.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
			next.ServeHTTP(w, r)
			return nil
		})
	}
	return http.HandlerFunc(fn)
}

// HandlerFunc wraps next. The error returned by next is recorded on the span
// and returned unchanged.
func (m *Middleware) HandlerFunc(next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		return m.serve(w, r, next)
	}
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next HandlerFunc) (err error) {
	r, span := m.Start(r)
	rw := newResponseWriter(w)

	defer func() {
		p := recover()
		outcome := err
		switch {
		case p != nil:
			outcome = &PanicError{Value: p}
		case outcome == nil && r.Context().Err() != nil:
			outcome = fmt.Errorf("request aborted: %w", r.Context().Err())
		}

		span.Finish(rw.Status(), outcome)

		if p != nil {
			panic(p)
		}
	}()

	return next(rw, r)
}

// PanicError records a panic raised by a traced handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// responseWriter is a thin wrapper around http.ResponseWriter that captures
// the status code written by the handler.
//
// The standard ResponseWriter does not expose the status code after the
// handler executes, so the middleware wraps it to record the status on the
// span and in request metrics. The optional interfaces net/http writers
// implement (Flusher, Hijacker, Pusher, ReaderFrom) are forwarded, so
// handlers see the same capabilities with or without the middleware.
//
// The status code defaults to http.StatusOK until WriteHeader is called.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

var (
	_ http.Flusher  = (*responseWriter)(nil)
	_ http.Hijacker = (*responseWriter)(nil)
	_ http.Pusher   = (*responseWriter)(nil)
	_ io.ReaderFrom = (*responseWriter)(nil)
)

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader records the first status code and forwards the call to the
// underlying ResponseWriter. Later calls are forwarded but not recorded,
// matching what net/http actually sends.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write marks the header as written with the default status.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// ReadFrom lets io.Copy reach the underlying writer's sendfile path.
func (rw *responseWriter) ReadFrom(r io.Reader) (int64, error) {
	rw.wroteHeader = true
	if rf, ok := rw.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(r)
	}
	return io.Copy(rw.ResponseWriter, r)
}

// Status returns the HTTP status code written for the request.
func (rw *responseWriter) Status() int {
	return rw.statusCode
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush forwards to the underlying writer when it supports flushing.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		rw.wroteHeader = true
		f.Flush()
	}
}

// Hijack hands the connection over to the handler, as websocket upgrades do.
// The status recorded is whatever was written before the takeover.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rw.wroteHeader = true
	return hj.Hijack()
}

// Push forwards an HTTP/2 server push.
func (rw *responseWriter) Push(target string, opts *http.PushOptions) error {
	if p, ok := rw.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}
