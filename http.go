package ddotel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// PathGroup returns a low-cardinality path group for a request path, with
// dynamic segments replaced by "?".
//
// A segment is kept as-is when it contains no digits ("api", "merchants", "")
// or when it is exactly "v" followed by digits ("v1", "v20"). Anything else
// ("123", "abc123", "v2b") is considered an identifier:
//
//	PathGroup("/api/v1/merchants/abc123/settlements") // "/api/v1/merchants/?/settlements"
//
// Leading, trailing and repeated slashes are preserved, and PathGroup is
// idempotent.
func PathGroup(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if !isStaticSegment(segment) {
			segments[i] = "?"
		}
	}
	return strings.Join(segments, "/")
}

func isStaticSegment(segment string) bool {
	return !hasDigit(segment) || isVersionSegment(segment)
}

func hasDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			return true
		}
	}
	return false
}

// isVersionSegment matches exactly "v" followed by one or more digits.
func isVersionSegment(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// InjectHeaders writes the trace context carried by ctx into headers using
// the global propagator, so that the far side can continue the trace.
//
// It writes nothing when ctx has no active span.
//
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	ddotel.InjectHeaders(ctx, req.Header)
func InjectHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ExtractHeaders returns a copy of ctx carrying the remote trace context found
// in headers. Missing or malformed headers leave ctx without a parent, so the
// next span starts a new trace.
func ExtractHeaders(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// HTTPClient returns an *http.Client whose transport records a client span
// for every request it sends.
//
// The trace context carried by ctx is written into req's headers first, so
// the far side continues the trace even if the caller later swaps the
// transport. Requests time out after 20 seconds.
//
//	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.example.com/charges", body)
//	resp, err := ddotel.HTTPClient(ctx, req).Do(req)
func HTTPClient(ctx context.Context, req *http.Request) *http.Client {
	InjectHeaders(ctx, req.Header)
	return &http.Client{
		Timeout:   20 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// DoRequest executes an HTTP request with trace context propagation.
//
// It is a convenience wrapper around HTTPClient for one-off calls; reuse the
// client returned by HTTPClient when issuing many requests.
//
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com", nil)
//	resp, err := ddotel.DoRequest(ctx, req)
func DoRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := HTTPClient(ctx, req)
	return client.Do(req)
}
