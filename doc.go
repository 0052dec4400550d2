// Package ddotel provides Datadog-flavoured OpenTelemetry instrumentation
// for Go HTTP services. It standardizes how services configure telemetry,
// trace inbound requests, forward trace context to downstream calls and
// submit metrics.
//
// # Overview
//
// ddotel provides:
//
//   - Config loaded from DD_ environment variables (and an optional .env)
//   - TracerProvider and MeterProvider construction with OTLP gRPC/HTTP export
//   - HTTP tracing middleware for net/http, chi, gorilla/mux and gin
//   - gRPC server interceptors built on the same span lifecycle
//   - Composite trace propagation: W3C Trace Context, Datadog and B3 headers
//   - A metrics client with static service/env/version tags
//   - Container identity (ECS, GKE) as a resource attribute
//
// # Environment Variables
//
//	DD_SERVICE, DD_ENV, DD_VERSION
//	    Default tags on every span, metric and log line.
//
//	DD_TRACE_ENABLED=true|false, DD_TRACE_AGENT_URL
//	    Trace export. "http://host:4318" uses OTLP/HTTP, "host:4317" uses
//	    OTLP/gRPC, "stdout" prints spans.
//
//	DD_METRICS_ENABLED=true|false, DD_METRICS_AGENT_URL
//	    Metric export, same endpoint syntax.
//
//	DD_TRACE_PROPAGATION_STYLE=tracecontext,datadog,b3,b3single,baggage
//	    Header formats read and written.
//
//	DD_CONTAINER_PLATFORM=ecs|gke
//	    Where to look up the container id.
//
// # Setup
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
// Init installs the providers and propagator globally. Use New instead to
// keep everything explicit and pass the Telemetry around.
//
// # HTTP Tracing
//
//	mw := tel.Middleware()
//	router := chi.NewRouter()
//	router.Use(mw.Handler)
//
// Each request gets one server span named "http.request" whose resource is
// "METHOD /route". Until a route matches, the resource is built from the
// path with identifiers replaced by "?" (see PathGroup), so
// /merchants/123 and /merchants/456 aggregate together. The span ends
// exactly once, recording the response status or, for failures, the error.
// Handlers that return errors can use Middleware.HandlerFunc; handlers that
// complete elsewhere can use Middleware.Start and RequestSpan.Finish.
//
// The span travels in the request context, so goroutines started from it are
// attributed to the request with no extra work.
//
// # Outgoing Requests
//
//	ddotel.InjectHeaders(ctx, req.Header)
//
// or use HTTPClient / DoRequest, which also record client spans.
//
// # Failure Semantics
//
// Configuration errors are returned from New and Init and should stop the
// process. Anything that goes wrong while tracing a request is logged and
// swallowed; errors and panics from handlers pass through untouched.
package ddotel
