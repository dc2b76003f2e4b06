package tracing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTel is an OpenTelemetry-backed Sink. It opens one root span per run in
// RunStarted and keeps it open (keyed by the returned trace id) until
// RunFinished, so Span/Generation calls in between attach as child spans
// of the same run. Every method is best-effort: tracer errors are
// swallowed into a returned error for the caller to log, never panicked.
type OTel struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]spanEntry
}

type spanEntry struct {
	ctx  context.Context
	span trace.Span
}

// NewOTel returns an OTel sink using the global TracerProvider registered
// by the caller (typically via go.opentelemetry.io/otel/sdk configured
// from SIGILZERO_OTEL_ENDPOINT). Callers not configuring an SDK get
// OTEL's own no-op provider, which is safe but emits nothing.
func NewOTel(instrumentationName string) *OTel {
	return &OTel{
		tracer: otel.Tracer(instrumentationName),
		spans:  make(map[string]spanEntry),
	}
}

func (o *OTel) RunStarted(ctx context.Context, runID, jobID string) (string, error) {
	spanCtx, span := o.tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("sigilzero.run_id", runID),
			attribute.String("sigilzero.job_id", jobID),
		))

	traceID := span.SpanContext().TraceID().String()
	if traceID == "" || !span.SpanContext().IsValid() {
		// Fall back to a uuid when the configured provider is the no-op
		// one (invalid/zero trace ids), so the manifest still carries a
		// stable cross-reference identifier.
		traceID = uuid.NewString()
	}

	o.mu.Lock()
	o.spans[traceID] = spanEntry{ctx: spanCtx, span: span}
	o.mu.Unlock()

	return traceID, nil
}

func (o *OTel) RunFinished(ctx context.Context, traceID string, status string) error {
	o.mu.Lock()
	entry, ok := o.spans[traceID]
	delete(o.spans, traceID)
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("tracing: unknown trace id %q", traceID)
	}

	entry.span.SetAttributes(attribute.String("sigilzero.status", status))
	if status == "failed" {
		entry.span.SetStatus(codes.Error, "run failed")
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End()
	return nil
}

func (o *OTel) Span(ctx context.Context, traceID, name string, attrs map[string]string) error {
	o.mu.Lock()
	entry, ok := o.spans[traceID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("tracing: unknown trace id %q", traceID)
	}

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}

	_, span := o.tracer.Start(entry.ctx, name, trace.WithAttributes(kvs...))
	span.End()
	return nil
}

func (o *OTel) Generation(ctx context.Context, traceID string, spec GenerationAttrs) error {
	o.mu.Lock()
	entry, ok := o.spans[traceID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("tracing: unknown trace id %q", traceID)
	}

	_, span := o.tracer.Start(entry.ctx, "generation", trace.WithAttributes(
		attribute.String("gen_ai.system", spec.Provider),
		attribute.String("gen_ai.request.model", spec.Model),
		attribute.Int("gen_ai.usage.prompt_tokens", spec.PromptTokens),
		attribute.Int("gen_ai.usage.completion_tokens", spec.CompletionTokens),
		attribute.Int64("sigilzero.latency_ms", spec.LatencyMS),
	))
	span.End()
	return nil
}
