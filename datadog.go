package ddotel

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Datadog propagation headers.
const (
	DatadogTraceIDHeader          = "x-datadog-trace-id"
	DatadogParentIDHeader         = "x-datadog-parent-id"
	DatadogSamplingPriorityHeader = "x-datadog-sampling-priority"
	DatadogOriginHeader           = "x-datadog-origin"
	DatadogTagsHeader             = "x-datadog-tags"

	// datadogTraceIDHighTag carries the upper 64 bits of a 128-bit trace id
	// as 16 lowercase hex characters.
	datadogTraceIDHighTag = "_dd.p.tid"
)

// DatadogPropagator reads and writes the x-datadog-* header format used by
// Datadog tracers. Trace and parent ids travel as unsigned decimal integers;
// the high half of a 128-bit trace id travels in x-datadog-tags.
type DatadogPropagator struct{}

var _ propagation.TextMapPropagator = DatadogPropagator{}

// Inject writes the span context found in ctx. Nothing is written when ctx
// carries no valid span context.
func (DatadogPropagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}

	traceID := sc.TraceID()
	spanID := sc.SpanID()
	high := binary.BigEndian.Uint64(traceID[:8])
	low := binary.BigEndian.Uint64(traceID[8:])

	carrier.Set(DatadogTraceIDHeader, strconv.FormatUint(low, 10))
	carrier.Set(DatadogParentIDHeader, strconv.FormatUint(binary.BigEndian.Uint64(spanID[:]), 10))

	priority := "0"
	if sc.IsSampled() {
		priority = "1"
	}
	carrier.Set(DatadogSamplingPriorityHeader, priority)

	if high != 0 {
		carrier.Set(DatadogTagsHeader, fmt.Sprintf("%s=%016x", datadogTraceIDHighTag, high))
	}
}

// Extract returns ctx with the remote span context described by carrier.
// Missing or malformed headers return ctx unchanged.
func (DatadogPropagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc, ok := extractDatadog(carrier)
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// Fields returns the headers this propagator reads and writes.
func (DatadogPropagator) Fields() []string {
	return []string{
		DatadogTraceIDHeader,
		DatadogParentIDHeader,
		DatadogSamplingPriorityHeader,
		DatadogOriginHeader,
		DatadogTagsHeader,
	}
}

func extractDatadog(carrier propagation.TextMapCarrier) (trace.SpanContext, bool) {
	low, err := strconv.ParseUint(strings.TrimSpace(carrier.Get(DatadogTraceIDHeader)), 10, 64)
	if err != nil || low == 0 {
		return trace.SpanContext{}, false
	}

	parent, err := strconv.ParseUint(strings.TrimSpace(carrier.Get(DatadogParentIDHeader)), 10, 64)
	if err != nil || parent == 0 {
		return trace.SpanContext{}, false
	}

	var traceID trace.TraceID
	binary.BigEndian.PutUint64(traceID[:8], datadogTraceIDHigh(carrier.Get(DatadogTagsHeader)))
	binary.BigEndian.PutUint64(traceID[8:], low)

	var spanID trace.SpanID
	binary.BigEndian.PutUint64(spanID[:], parent)

	var flags trace.TraceFlags
	if priority, err := strconv.Atoi(strings.TrimSpace(carrier.Get(DatadogSamplingPriorityHeader))); err == nil && priority > 0 {
		flags = trace.FlagsSampled
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// datadogTraceIDHigh returns the upper trace id bits from an x-datadog-tags
// value such as "_dd.p.dm=-1,_dd.p.tid=640cfd8d00000000", or 0.
func datadogTraceIDHigh(tags string) uint64 {
	for _, tag := range strings.Split(tags, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(tag), "=")
		if !ok || key != datadogTraceIDHighTag || len(value) != 16 {
			continue
		}
		raw, err := hex.DecodeString(value)
		if err != nil {
			return 0
		}
		return binary.BigEndian.Uint64(raw)
	}
	return 0
}
