package ddotel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NewLogger builds the process logger.
//
// The "development" environment gets a human-readable console logger at
// debug level; any other environment gets JSON at info level. Every entry
// carries the service, env and version tags.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.With(
		zap.String("service", cfg.Service),
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
	), nil
}

// LoggerFromContext returns base annotated with the trace_id and span_id of
// the span carried by ctx, so log lines can be joined with traces.
func LoggerFromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return base
	}

	return base.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
