// Package telemetry defines the logging, metrics, and tracing capabilities
// used throughout the orchestration core (C10 Observability). Concrete
// components never import goa.design/clue or go.opentelemetry.io directly;
// they depend on these small interfaces so tests can substitute no-op
// implementations and production wiring can substitute real backends.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Category labels a structured log line with the subsystem that emitted it.
// Categories mirror the component table in SPEC_FULL.md so that log search
// can scope to "workflow", "agent", "api", etc.
type Category string

const (
	// CategorySystem covers process lifecycle and configuration events.
	CategorySystem Category = "system"
	// CategoryAgent covers agent registry and delegation events.
	CategoryAgent Category = "agent"
	// CategoryWorkflow covers the workflow graph engine.
	CategoryWorkflow Category = "workflow"
	// CategoryAPI covers provider/tool call boundaries.
	CategoryAPI Category = "api"
	// CategorySecurity covers guardrail and sanitization audit events.
	CategorySecurity Category = "security"
)

type (
	// Logger emits structured, leveled log lines. Implementations accept a
	// flat key-value tail (k1, v1, k2, v2, ...) the same way the teacher's
	// runtime telemetry package does, so call sites never build intermediate
	// field slices.
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

	// Tracer starts and retrieves spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of tracing work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Telemetry bundles the three capabilities so subsystems can accept a single
// value in their constructor options, matching the teacher's Runtime struct
// fields (logger/metrics/tracer).
type Telemetry struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// Noop returns a Telemetry bundle whose members discard everything. Safe as
// a zero-configuration default and for unit tests.
func Noop() Telemetry {
	return Telemetry{Logger: NoopLogger{}, Metrics: NoopMetrics{}, Tracer: NoopTracer{}}
}
