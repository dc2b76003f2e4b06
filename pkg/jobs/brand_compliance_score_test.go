package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
)

func TestBrandComplianceScoreJob_BuildInputsAndBody(t *testing.T) {
	repoRoot, doctrineRoot := setupRepo(t)
	gen := &fakeGen{output: "```json\n{\"overall_score\": 0.82, \"dimensions\": {\"voice\": 0.9}}\n```"}
	def := NewBrandComplianceScoreJob(gen, doctrineRoot)

	br := &brief.Brief{
		JobID:   "job-2",
		JobType: "brand_compliance_score",
		Brand:   "Sigil Zero",
		Params: map[string]interface{}{
			"content": map[string]interface{}{
				"title":    "Eclipse Drop",
				"body":     "New single out now.",
				"channels": []interface{}{"instagram", "tiktok"},
			},
		},
	}

	inputs, ref, err := def.BuildInputs(context.Background(), repoRoot, br, nil)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "brand_governance", ref.DoctrineID)
	require.Contains(t, inputs, "prompt_template")

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "outputs"), 0o755))
	require.NoError(t, def.Body(context.Background(), workDir, inputs))

	raw, err := os.ReadFile(filepath.Join(workDir, "outputs", "compliance_scores.json"))
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.Equal(t, 0.82, parsed["overall_score"])
}

func TestBrandComplianceScoreJob_RejectsResponseMissingScoredCore(t *testing.T) {
	repoRoot, doctrineRoot := setupRepo(t)
	gen := &fakeGen{output: `{"commentary": "no scores here"}`}
	def := NewBrandComplianceScoreJob(gen, doctrineRoot)

	br := &brief.Brief{
		JobID:   "job-3",
		JobType: "brand_compliance_score",
		Brand:   "Sigil Zero",
		Params: map[string]interface{}{
			"content": map[string]interface{}{"title": "Eclipse Drop", "body": "New single."},
		},
	}

	inputs, _, err := def.BuildInputs(context.Background(), repoRoot, br, nil)
	require.NoError(t, err)

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "outputs"), 0o755))
	err = def.Body(context.Background(), workDir, inputs)
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(workDir, "outputs", "compliance_scores.json"))
}

func TestParseJSONResponse_UnwrapsFencedBlock(t *testing.T) {
	v, err := parseJSONResponse("```json\n{\"a\": 1}\n```")
	require.NoError(t, err)
	m, ok := v.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(1), m["a"])
}

func TestParseJSONResponse_RejectsInvalidJSON(t *testing.T) {
	_, err := parseJSONResponse("not json at all")
	require.Error(t, err)
}
