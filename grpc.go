package ddotel

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// OperationGRPC is the span name of RPCs traced by the gRPC interceptors.
const OperationGRPC = "grpc.server"

// UnaryServerInterceptor returns a gRPC unary server interceptor that traces
// every call the way Middleware traces HTTP requests.
//
// The span continues the trace found in the incoming metadata, uses the full
// method (/package.Service/Method) as its resource, and records the gRPC
// status code. A non-nil error from the handler marks the span as failed and
// is returned unchanged. When m has metrics configured, request count and
// latency are recorded with attributes:
//
//	method       : full gRPC method name
//	status_code  : gRPC status code as int
//
// Usage:
//
//	server := grpc.NewServer(
//	    grpc.UnaryInterceptor(ddotel.UnaryServerInterceptor(mw)),
//	)
func UnaryServerInterceptor(m *Middleware) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		ctx, span := m.startRPCSpan(ctx, info.FullMethod)

		defer func() {
			p := recover()
			outcome := rpcOutcome(ctx, err, p)

			span.Finish(int(status.Code(outcome)), outcome)

			if p != nil {
				panic(p)
			}
		}()

		return handler(ctx, req) // call the actual RPC
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// traces client-streaming, server-streaming and bidirectional RPCs.
//
// The span covers the whole stream, from the handler starting until it
// returns. The stream handed to the handler carries the span in Context().
//
// Usage:
//
//	grpc.NewServer(
//	    grpc.StreamInterceptor(ddotel.StreamServerInterceptor(mw)),
//	)
func StreamServerInterceptor(m *Middleware) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		ctx, span := m.startRPCSpan(ss.Context(), info.FullMethod)

		defer func() {
			p := recover()
			outcome := rpcOutcome(ctx, err, p)

			span.Finish(int(status.Code(outcome)), outcome)

			if p != nil {
				panic(p)
			}
		}()

		return handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx}) // call the actual stream handler
	}
}

func (m *Middleware) startRPCSpan(ctx context.Context, fullMethod string) (context.Context, *RequestSpan) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = m.propagator.Extract(ctx, metadataCarrier(md))

	service, method := splitFullMethod(fullMethod)
	attrs := []attribute.KeyValue{
		AttrOperationName.String(OperationGRPC),
		AttrSpanType.String("rpc"),
		semconv.RPCSystemKey.String("grpc"),
	}
	attrs = appendNonEmpty(attrs, semconv.RPCServiceKey, service)
	attrs = appendNonEmpty(attrs, semconv.RPCMethodKey, method)
	if ids := md.Get(HeaderRequestID); len(ids) > 0 {
		attrs = appendNonEmpty(attrs, AttrHTTPRequestID, ids[0])
	}

	ctx, span := m.tracer.Start(ctx, OperationGRPC,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	s := &RequestSpan{
		span:  span,
		m:     m,
		start: time.Now(),
		rpc:   true,
	}
	s.setRoute(fullMethod)
	return ctx, s
}

// splitFullMethod splits "/package.Service/Method" into its service and
// method parts.
func splitFullMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(name, "/")
	if !ok {
		return "", name
	}
	return service, method
}

// tracedServerStream wraps grpc.ServerStream with the traced context.
type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}

// metadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// rpcOutcome is the error a finished RPC is recorded with. A caller that
// went away before a successful handler returned is recorded under the
// matching Canceled or DeadlineExceeded status.
func rpcOutcome(ctx context.Context, err error, p any) error {
	switch {
	case p != nil:
		return &PanicError{Value: p}
	case err == nil && ctx.Err() != nil:
		return status.FromContextError(ctx.Err()).Err()
	}
	return err
}
