package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/chain"
)

func TestBrandOptimizationJob_IsChainableWithExpectedUpstream(t *testing.T) {
	gen := &fakeGen{output: "Tighten the hook line, lean into the brand voice."}
	def := NewBrandOptimizationJob(gen)
	require.True(t, def.Chainable)
	require.Equal(t, "brand_compliance_score", def.ExpectedUpstreamJobType)
}

func TestBrandOptimizationJob_BuildInputsAndBody(t *testing.T) {
	repoRoot := t.TempDir()
	inputsHash := "sha256:deadbeef"
	prior := &chain.Snapshot{
		PriorRunID: "run-abc",
		PriorStage: "brand_compliance_score",
		PriorJobID: "job-2",
		PriorManifest: chain.PriorManifestRef{
			JobID:      "job-2",
			RunID:      "run-abc",
			JobType:    "brand_compliance_score",
			InputsHash: &inputsHash,
		},
		RequiredOutputs:   []string{"compliance_scores.json"},
		PriorOutputHashes: map[string]string{"compliance_scores.json": "sha256:abc123"},
	}

	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "artifacts", "job-2", "run-abc", "outputs"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(repoRoot, "artifacts", "job-2", "run-abc", "outputs", "compliance_scores.json"),
		[]byte(`{"overall_score": 0.6}`), 0o644))

	def := NewBrandOptimizationJob(&fakeGen{output: "Increase authenticity in the caption hook."})
	br := &brief.Brief{JobID: "job-3", JobType: "brand_optimization"}

	inputs, ref, err := def.BuildInputs(context.Background(), repoRoot, br, prior)
	require.NoError(t, err)
	require.Nil(t, ref)
	require.Equal(t, "{}", inputs["doctrine"])

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "outputs"), 0o755))
	require.NoError(t, def.Body(context.Background(), workDir, inputs))

	raw, err := os.ReadFile(filepath.Join(workDir, "outputs", "optimization.json"))
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.Equal(t, "run-abc", parsed["prior_run_id"])
}
