package main

import (
	"context"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/manifest"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/tracing"
)

// sinkTracer adapts a tracing.Sink (string status) to engine.Tracer
// (manifest.Status), the only two methods the engine itself calls.
type sinkTracer struct {
	sink tracing.Sink
}

func (t *sinkTracer) RunStarted(ctx context.Context, runID, jobID string) (string, error) {
	return t.sink.RunStarted(ctx, runID, jobID)
}

func (t *sinkTracer) RunFinished(ctx context.Context, traceID string, status manifest.Status) error {
	return t.sink.RunFinished(ctx, traceID, string(status))
}
