package ddotel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Propagation styles accepted by NewPropagator.
const (
	StyleTraceContext = "tracecontext"
	StyleDatadog      = "datadog"
	StyleB3           = "b3"
	StyleB3Single     = "b3single"
	StyleBaggage      = "baggage"
)

// ErrUnknownPropagator is returned for an unsupported propagation style.
var ErrUnknownPropagator = errors.New("unknown propagation style")

// DefaultPropagation is the style list used when none is configured.
var DefaultPropagation = []string{StyleTraceContext, StyleDatadog, StyleBaggage}

// Propagator combines several header formats.
//
// Unlike propagation.NewCompositeTextMapPropagator, extraction does not let
// the last format overwrite the others: every format is read independently
// and the richest span context wins (valid, then carrying a tracestate, then
// carrying a full 128-bit trace id). Ties go to the format listed first.
// Baggage is merged on top of the winner.
//
// Injection writes every format, and writes nothing when there is no valid
// span context to forward.
type Propagator struct {
	formats []propagation.TextMapPropagator
	baggage bool
}

var _ propagation.TextMapPropagator = (*Propagator)(nil)

// NewPropagator builds a Propagator from style names such as
// "tracecontext", "datadog", "b3", "b3single" and "baggage". Names are case
// insensitive; blanks are ignored. With no styles, or only blank ones,
// DefaultPropagation is used.
func NewPropagator(styles ...string) (*Propagator, error) {
	if allBlank(styles) {
		styles = DefaultPropagation
	}

	p := &Propagator{}
	for _, style := range styles {
		switch strings.ToLower(strings.TrimSpace(style)) {
		case "":
		case StyleTraceContext:
			p.formats = append(p.formats, propagation.TraceContext{})
		case StyleDatadog:
			p.formats = append(p.formats, DatadogPropagator{})
		case StyleB3:
			p.formats = append(p.formats, b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader)))
		case StyleB3Single:
			p.formats = append(p.formats, b3.New(b3.WithInjectEncoding(b3.B3SingleHeader)))
		case StyleBaggage:
			p.baggage = true
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownPropagator, style)
		}
	}

	return p, nil
}

func allBlank(styles []string) bool {
	for _, style := range styles {
		if strings.TrimSpace(style) != "" {
			return false
		}
	}
	return true
}

// Inject implements propagation.TextMapPropagator.
func (p *Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}

	for _, format := range p.formats {
		format.Inject(ctx, carrier)
	}
	if p.baggage {
		propagation.Baggage{}.Inject(ctx, carrier)
	}
}

// Extract implements propagation.TextMapPropagator. It never fails: when no
// format yields a valid span context, ctx is returned without a remote parent.
func (p *Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	var (
		best      trace.SpanContext
		bestScore int
	)
	for _, format := range p.formats {
		sc := trace.SpanContextFromContext(format.Extract(context.Background(), carrier))
		if score := richness(sc); score > bestScore {
			best, bestScore = sc, score
		}
	}

	if p.baggage {
		ctx = propagation.Baggage{}.Extract(ctx, carrier)
	}
	if best.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, best)
	}
	return ctx
}

// Fields implements propagation.TextMapPropagator.
func (p *Propagator) Fields() []string {
	seen := make(map[string]struct{})
	var fields []string
	add := func(names []string) {
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			fields = append(fields, name)
		}
	}

	for _, format := range p.formats {
		add(format.Fields())
	}
	if p.baggage {
		add(propagation.Baggage{}.Fields())
	}
	return fields
}

func richness(sc trace.SpanContext) int {
	if !sc.IsValid() {
		return 0
	}

	score := 1
	if sc.TraceState().Len() > 0 {
		score++
	}

	traceID := sc.TraceID()
	for _, b := range traceID[:8] {
		if b != 0 {
			score++
			break
		}
	}
	return score
}
