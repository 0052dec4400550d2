package ddotel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Span attribute keys set on request spans. The names follow what the
// Datadog agent maps onto its own span fields.
const (
	AttrOperationName = attribute.Key("operation.name")
	AttrResourceName  = attribute.Key("resource.name")
	AttrSpanType      = attribute.Key("span.type")

	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPURL        = attribute.Key("http.url")
	AttrHTTPUserAgent  = attribute.Key("http.useragent")
	AttrHTTPBaseURL    = attribute.Key("http.base_url")
	AttrHTTPClientIP   = attribute.Key("http.client.ip")
	AttrHTTPRequestID  = attribute.Key("http.request_id")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
	AttrHTTPRoute      = semconv.HTTPRouteKey

	AttrErrorType    = semconv.ErrorTypeKey
	AttrErrorMessage = attribute.Key("error.message")

	AttrRPCStatusCode = attribute.Key("rpc.grpc.status_code")
)

// Inbound headers read by the span factory.
const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRequestID    = "X-Request-Id"
)

// RequestSpan is the span of a single in-flight request.
//
// It is created by Middleware.Start and closed by Finish, which records the
// outcome and ends the span. Only the first Finish call has any effect.
type RequestSpan struct {
	span   trace.Span
	m      *Middleware
	req    *http.Request
	method string
	start  time.Time
	route  string
	routed bool
	rpc    bool
	done   atomic.Bool
}

// Span returns the underlying OpenTelemetry span.
func (s *RequestSpan) Span() trace.Span {
	return s.span
}

// startRequestSpan builds the request span, continuing the trace described by
// the inbound headers. The returned context carries the span.
//
// resource.name starts out from the path group so that a resource exists even
// when no route ever matches (a 404, say). A non-empty route replaces it.
func (m *Middleware) startRequestSpan(r *http.Request, route string) (context.Context, *RequestSpan) {
	ctx := m.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	attrs := []attribute.KeyValue{
		AttrOperationName.String(m.operation),
		AttrResourceName.String(r.Method + " " + PathGroup(r.URL.Path)),
		AttrSpanType.String("web"),
		AttrHTTPMethod.String(r.Method),
		AttrHTTPURL.String(r.URL.Path),
	}
	attrs = appendNonEmpty(attrs, AttrHTTPUserAgent, r.UserAgent())
	attrs = appendNonEmpty(attrs, AttrHTTPBaseURL, requestHost(r))
	attrs = appendNonEmpty(attrs, AttrHTTPClientIP, clientIP(r))
	attrs = appendNonEmpty(attrs, AttrHTTPRequestID, r.Header.Get(HeaderRequestID))
	attrs = appendNonEmpty(attrs, semconv.NetworkProtocolVersionKey, protocolVersion(r))
	attrs = appendNonEmpty(attrs, semconv.ServerAddressKey, r.URL.Hostname())
	attrs = appendNonEmpty(attrs, semconv.URLSchemeKey, r.URL.Scheme)

	ctx, span := m.tracer.Start(ctx, m.operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	s := &RequestSpan{
		span:   span,
		m:      m,
		method: r.Method,
		start:  time.Now(),
	}
	s.setRoute(route)

	return ctx, s
}

// setRoute records the matched route once.
func (s *RequestSpan) setRoute(route string) {
	if s.routed || route == "" {
		return
	}
	s.routed = true
	s.route = route
	if s.rpc {
		s.span.SetAttributes(AttrResourceName.String(route))
		return
	}
	s.span.SetAttributes(
		AttrResourceName.String(strings.TrimSpace(s.method+" "+route)),
		AttrHTTPRoute.String(route),
	)
}

// Finish records the request outcome and ends the span.
//
// A nil err records status as the response status code. A non-nil err marks
// the span as failed: error.type holds the error text and error.message the
// text of its wrapped cause, if any. Finish never panics and only the first
// call has an effect.
func (s *RequestSpan) Finish(status int, err error) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			s.m.logger.Warn("failed to finalize request span", zap.Any("panic", p))
		}
	}()

	if !s.routed && s.req != nil {
		s.setRoute(s.m.routes(s.req))
	}

	if s.rpc {
		s.span.SetAttributes(AttrRPCStatusCode.Int(status))
	}

	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.span.SetAttributes(AttrErrorType.String(err.Error()))
		if cause := errors.Unwrap(err); cause != nil {
			s.span.SetAttributes(AttrErrorMessage.String(cause.Error()))
		}
		s.span.RecordError(err)
	} else if !s.rpc {
		s.span.SetAttributes(AttrHTTPStatusCode.Int(status))
	}

	if !s.span.SpanContext().IsValid() {
		s.m.logger.Debug("request span has no valid context", zap.String("method", s.method))
	}
	s.span.End()

	if s.m.metrics != nil {
		s.recordMetrics(status, err)
	}
}

func (s *RequestSpan) recordMetrics(status int, err error) {
	method := s.method
	if s.rpc {
		method = s.route
	} else if err != nil && status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	s.m.metrics.recordRequest(context.Background(), method, s.resource(), status, time.Since(s.start))
}

// resource returns the low-cardinality resource used as a metric attribute.
func (s *RequestSpan) resource() string {
	if s.routed || s.req == nil {
		return s.route
	}
	return PathGroup(s.req.URL.Path)
}

// AuthInfo describes how a request was authenticated. Empty fields are not
// recorded.
type AuthInfo struct {
	Method       string
	UserUUID     string
	MerchantUUID string
	AccountUUID  string
	Role         string
	APIVersion   string
}

// UserInfo identifies the end user behind a request. Empty fields are not
// recorded.
type UserInfo struct {
	ID        string
	Email     string
	SessionID string
	Role      string
	Merchant  string
	Account   string
}

// RecordAuth sets the auth.* attributes on the span carried by ctx.
// It does nothing when ctx holds no recording span.
func RecordAuth(ctx context.Context, info AuthInfo) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	var attrs []attribute.KeyValue
	attrs = appendNonEmpty(attrs, "auth.method", info.Method)
	attrs = appendNonEmpty(attrs, "auth.user_uuid", info.UserUUID)
	attrs = appendNonEmpty(attrs, "auth.merchant_uuid", info.MerchantUUID)
	attrs = appendNonEmpty(attrs, "auth.account_uuid", info.AccountUUID)
	attrs = appendNonEmpty(attrs, "auth.role", info.Role)
	attrs = appendNonEmpty(attrs, "auth.api_version", info.APIVersion)
	span.SetAttributes(attrs...)
}

// RecordUser sets the usr.* attributes on the span carried by ctx.
// It does nothing when ctx holds no recording span.
func RecordUser(ctx context.Context, info UserInfo) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	var attrs []attribute.KeyValue
	attrs = appendNonEmpty(attrs, "usr.id", info.ID)
	attrs = appendNonEmpty(attrs, "usr.email", info.Email)
	attrs = appendNonEmpty(attrs, "usr.session_id", info.SessionID)
	attrs = appendNonEmpty(attrs, "usr.role", info.Role)
	attrs = appendNonEmpty(attrs, "usr.merchant", info.Merchant)
	attrs = appendNonEmpty(attrs, "usr.account", info.Account)
	span.SetAttributes(attrs...)
}
