// Package telemetry provides OpenTelemetry tracing and Prometheus metrics
// for the coordination protocol.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with protocol span helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // include content in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global otel provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{tracer: otel.Tracer(name), debug: debug}
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// Debug returns whether content is recorded in spans.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts an internal span for a protocol operation.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends the span. code is the protocol
// result code and may be empty.
func (t *Tracer) EndSpan(span trace.Span, code string, err error) {
	if code != "" {
		span.SetAttributes(attribute.String("oneagent.result", code))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// GenerationSpanOptions describes one generator call.
type GenerationSpanOptions struct {
	Provider string
	Prompt   string // recorded only in debug mode
	Response string // recorded only in debug mode
}

// StartGenerationSpan starts a client span for a generator call.
func (t *Tracer) StartGenerationSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm.generate", trace.WithSpanKind(trace.SpanKindClient))
}

// EndGenerationSpan ends a generator span.
func (t *Tracer) EndGenerationSpan(span trace.Span, opts GenerationSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.prompt.length", len(opts.Prompt)),
		attribute.Int("llm.response.length", len(opts.Response)),
	}
	if t.debug {
		attrs = append(attrs,
			attribute.String("llm.prompt", truncate(opts.Prompt, 4000)),
			attribute.String("llm.response", truncate(opts.Response, 4000)))
	}
	span.SetAttributes(attrs...)
	t.EndSpan(span, "", err)
}

// Attribute keys shared by protocol spans.
var (
	AttrAgent        = attribute.Key("oneagent.agent")
	AttrTarget       = attribute.Key("oneagent.target")
	AttrMessageType  = attribute.Key("oneagent.message.type")
	AttrConversation = attribute.Key("oneagent.conversation")
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
