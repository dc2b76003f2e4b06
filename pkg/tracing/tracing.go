// Package tracing implements the best-effort tracing sink consumed by
// the engine: trace/span/generation emission that must
// never abort a run and must start only after run_id exists. The
// no-op implementation used by default and by tests carries no
// OpenTelemetry dependency at its call site; the OTEL-backed adapter is
// opt-in via NewOTel.
package tracing

import (
	"context"
)

// Sink is the tracing interface the engine consumes. Every method is
// best-effort: a non-nil error is logged by the caller and never
// aborts the run.
type Sink interface {
	// RunStarted opens a trace for a run, returning a trace identifier
	// recorded on the manifest (excluded from the deterministic
	// projection). Called only after run_id is known.
	RunStarted(ctx context.Context, runID, jobID string) (traceID string, err error)
	// RunFinished closes the trace opened by RunStarted.
	RunFinished(ctx context.Context, traceID string, status string) error
	// Span records a named sub-operation within a trace (e.g. doctrine
	// resolution, context assembly, the LLM call itself).
	Span(ctx context.Context, traceID, name string, attrs map[string]string) error
	// Generation records one LLM call's shape (provider/model/token
	// counts) against a trace for cost/latency observability.
	Generation(ctx context.Context, traceID string, spec GenerationAttrs) error
}

// GenerationAttrs carries the observable shape of a single LLM call.
type GenerationAttrs struct {
	Provider        string
	Model           string
	PromptTokens    int
	CompletionTokens int
	LatencyMS        int64
}

// NoOp is the zero-configuration Sink: every call is a no-op returning
// nil. Used as the engine's default when no Tracer is injected.
type NoOp struct{}

func (NoOp) RunStarted(ctx context.Context, runID, jobID string) (string, error) { return "", nil }
func (NoOp) RunFinished(ctx context.Context, traceID string, status string) error { return nil }
func (NoOp) Span(ctx context.Context, traceID, name string, attrs map[string]string) error {
	return nil
}
func (NoOp) Generation(ctx context.Context, traceID string, spec GenerationAttrs) error { return nil }
