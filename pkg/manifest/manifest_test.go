package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleManifest(inputsHash string) *Manifest {
	return &Manifest{
		SchemaVersion: CurrentSchemaVersion,
		JobID:         "ig-test-001",
		RunID:         "abc123",
		JobRef:        "jobs/ig-test-001/brief.yaml",
		JobType:       "instagram_copy",
		Status:        StatusSucceeded,
		InputsHash:    &inputsHash,
		InputSnapshots: map[string]SnapshotEntry{
			"brief": {Path: "inputs/brief.resolved.json", SHA256: "sha256:aaa", Bytes: 10},
		},
		Artifacts: map[string]ArtifactEntry{
			"outputs/caption.md": {SHA256: "sha256:bbb", Bytes: 20},
		},
		ChainMetadata: ChainMetadata{IsChainableStage: false, PriorStages: []PriorStage{}},
		StartedAt:     "2026-01-01T00:00:00Z",
		FinishedAt:    "2026-01-01T00:00:01Z",
		QueueJobID:    "queue-A",
	}
}

func TestDeterministicProjection_ExcludesVolatileFields(t *testing.T) {
	m := sampleManifest("sha256:deadbeef")
	proj, err := m.DeterministicProjection()
	require.NoError(t, err)
	require.NotContains(t, string(proj), "started_at")
	require.NotContains(t, string(proj), "finished_at")
	require.NotContains(t, string(proj), "queue_job_id")
}

func TestDeterministicProjection_SameInputsHashSameBytes(t *testing.T) {
	m1 := sampleManifest("sha256:deadbeef")
	m1.QueueJobID = "queue-A"
	m1.StartedAt = "2026-01-01T00:00:00Z"

	m2 := sampleManifest("sha256:deadbeef")
	m2.QueueJobID = "queue-B"
	m2.StartedAt = "2026-02-02T00:00:00Z"

	p1, err := m1.DeterministicProjection()
	require.NoError(t, err)
	p2, err := m2.DeterministicProjection()
	require.NoError(t, err)

	require.Equal(t, string(p1), string(p2))
}

func TestMarshalStored_ThenParse_RoundTrips(t *testing.T) {
	m := sampleManifest("sha256:deadbeef")
	data, err := m.MarshalStored()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, m.JobID, parsed.JobID)
	require.Equal(t, m.RunID, parsed.RunID)
	require.Equal(t, *m.InputsHash, *parsed.InputsHash)
}

func TestValidateStructure_AcceptsWellFormedManifest(t *testing.T) {
	m := sampleManifest("sha256:deadbeef")
	data, err := m.MarshalStored()
	require.NoError(t, err)
	require.NoError(t, ValidateStructure(data))
}

func TestValidateStructure_RejectsMissingRequiredField(t *testing.T) {
	err := ValidateStructure([]byte(`{"job_id": "x"}`))
	require.Error(t, err)
}

func TestValidateStructure_RejectsBadStatus(t *testing.T) {
	err := ValidateStructure([]byte(`{
		"schema_version": "1.2.0",
		"job_id": "x",
		"run_id": "y",
		"job_ref": "jobs/x/brief.yaml",
		"job_type": "instagram_copy",
		"status": "not_a_status",
		"input_snapshots": {},
		"artifacts": {},
		"chain_metadata": {"is_chainable_stage": false, "prior_stages": []}
	}`))
	require.Error(t, err)
}
