// Package telemetry defines the logging, metrics, and tracing ports used
// throughout the runtime. Concrete implementations wrap goa.design/clue and
// OpenTelemetry (see clue.go); tests use the noop implementation.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages. Keyvals follow the classic
	// alternating key/value convention: k1, v1, k2, v2, ...
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans and retrieves the active span from a context.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of traced work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// ToolTelemetry captures observability metadata collected while executing
	// a tool call: provider and model identifiers, retry attempts, and
	// duration.
	ToolTelemetry struct {
		Provider string
		Model    string
		Attempts int
		Duration time.Duration
	}
)
