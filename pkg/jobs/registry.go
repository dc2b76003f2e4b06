package jobs

import (
	"github.com/jasoncookdesign/sigilzero-engine/pkg/engine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/llmclient"
)

// NewRegistry builds the engine's job_type -> JobDefinition registry for
// every job type this repository ships.
func NewRegistry(gen llmclient.Generator, doctrineRoot string) map[string]*engine.JobDefinition {
	registry := map[string]*engine.JobDefinition{}
	for _, def := range []*engine.JobDefinition{
		NewInstagramCopyJob(gen, doctrineRoot),
		NewBrandComplianceScoreJob(gen, doctrineRoot),
		NewBrandOptimizationJob(gen),
	} {
		registry[def.JobType] = def
	}
	return registry
}
