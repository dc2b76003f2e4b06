package reindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/runid"
)

func writeManifestAt(t *testing.T, runDir, runID, inputsHash string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	manifestJSON := `{
		"schema_version": "1.2.0",
		"job_id": "job-x",
		"run_id": "` + runID + `",
		"job_ref": "jobs/a.yaml",
		"job_type": "instagram_copy",
		"status": "succeeded",
		"inputs_hash": "` + inputsHash + `",
		"input_snapshots": {},
		"artifacts": {},
		"chain_metadata": {"is_chainable_stage": false, "prior_stages": []}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "manifest.json"), []byte(manifestJSON), 0o644))
}

func TestVerifyRunIDDerivation_BaseMatches(t *testing.T) {
	inputsHash := "sha256:" + hashHex([]byte("seed"))
	base := runid.DeriveRunIDBase(inputsHash)
	require.NoError(t, verifyRunIDDerivation(inputsHash, base))
}

func TestVerifyRunIDDerivation_ValidCollisionSuffix(t *testing.T) {
	inputsHash := "sha256:" + hashHex([]byte("seed"))
	suffixed := runid.DeriveRunID(inputsHash, 2)
	require.NoError(t, verifyRunIDDerivation(inputsHash, suffixed))
}

func TestVerifyRunIDDerivation_WrongBaseErrors(t *testing.T) {
	inputsHash := "sha256:" + hashHex([]byte("seed"))
	require.Error(t, verifyRunIDDerivation(inputsHash, "0000000000000000000000000000000000-2"))
}

func writeDoctrineManifestAt(t *testing.T, runDir, declaredSHA, snapshotContent string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "inputs"), 0o755))

	snapJSON := `{"doctrine_id": "prompts/instagram_copy", "version": "v1.0.0", "sha256": "` + declaredSHA + `", "content": ` + snapshotContent + `}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "inputs", "doctrine.resolved.json"), []byte(snapJSON), 0o644))

	manifestJSON := `{
		"schema_version": "1.2.0",
		"job_id": "job-x",
		"run_id": "run-doc",
		"job_ref": "jobs/a.yaml",
		"job_type": "instagram_copy",
		"status": "succeeded",
		"inputs_hash": null,
		"input_snapshots": {
			"doctrine": {"path": "inputs/doctrine.resolved.json", "sha256": "` + hashWithPrefix(snapJSON) + `", "bytes": ` + itoa(len(snapJSON)) + `}
		},
		"doctrine": {"doctrine_id": "prompts/instagram_copy", "version": "v1.0.0", "sha256": "` + declaredSHA + `"},
		"artifacts": {},
		"chain_metadata": {"is_chainable_stage": false, "prior_stages": []}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "manifest.json"), []byte(manifestJSON), 0o644))
}

func doctrineFindings(findings []Finding) []string {
	var checks []string
	for _, f := range findings {
		if len(f.Check) >= 8 && f.Check[:8] == "doctrine" {
			checks = append(checks, f.Check)
		}
	}
	return checks
}

func TestVerifyManifest_DoctrineContentRehashes(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "job-x", "run-doc")
	content := "Write instagram captions."
	writeDoctrineManifestAt(t, runDir, hashWithPrefix(content), `"`+content+`"`)

	findings, m, err := VerifyManifest(Location{JobID: "job-x", RunID: "run-doc", RunDir: runDir, ManifestPath: filepath.Join(runDir, "manifest.json"), Canonical: true})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Empty(t, doctrineFindings(findings))
}

func TestVerifyManifest_DoctrineContentDriftIsFlagged(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "job-x", "run-doc")
	writeDoctrineManifestAt(t, runDir, hashWithPrefix("Write instagram captions."), `"Tampered doctrine text."`)

	findings, _, err := VerifyManifest(Location{JobID: "job-x", RunID: "run-doc", RunDir: runDir, ManifestPath: filepath.Join(runDir, "manifest.json"), Canonical: true})
	require.NoError(t, err)
	require.Contains(t, doctrineFindings(findings), "doctrine_hash_mismatch")
}

func TestVerifyManifest_DoctrineWithoutContentFieldIsUnverifiable(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "job-x", "run-doc")
	writeDoctrineManifestAt(t, runDir, hashWithPrefix("anything"), "null")

	findings, _, err := VerifyManifest(Location{JobID: "job-x", RunID: "run-doc", RunDir: runDir, ManifestPath: filepath.Join(runDir, "manifest.json"), Canonical: true})
	require.NoError(t, err)
	require.Contains(t, doctrineFindings(findings), "doctrine_unverifiable")
}

func TestVerifyManifest_RunIDMismatchIsFlagged(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "job-x", "run-actual")
	writeManifestAt(t, runDir, "run-declared-differently", "sha256:"+hashHex([]byte("seed")))

	findings, m, err := VerifyManifest(Location{JobID: "job-x", RunID: "run-actual", RunDir: runDir, ManifestPath: filepath.Join(runDir, "manifest.json"), Canonical: true})
	require.NoError(t, err)
	require.NotNil(t, m)

	found := false
	for _, f := range findings {
		if f.Check == "run_id_mismatch" {
			found = true
		}
	}
	require.True(t, found)
}
