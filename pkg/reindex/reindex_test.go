package reindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, artifactsRoot, jobID, runID, inputsHash string, snapshots map[string]string, outputs map[string]string) {
	t.Helper()
	runDir := filepath.Join(artifactsRoot, jobID, runID)
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "inputs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "outputs"), 0o755))

	snapshotJSON := "{}"
	if len(snapshots) > 0 {
		entries := make(map[string]string)
		for name, content := range snapshots {
			relPath := filepath.Join("inputs", name+".resolved.json")
			require.NoError(t, os.WriteFile(filepath.Join(runDir, relPath), []byte(content), 0o644))
			entries[name] = content
		}
		snapshotJSON = snapshotsToJSON(t, runDir, entries)
	}

	artifactJSON := "{}"
	if len(outputs) > 0 {
		entries := make(map[string]string)
		for name, content := range outputs {
			require.NoError(t, os.WriteFile(filepath.Join(runDir, "outputs", name), []byte(content), 0o644))
			entries["outputs/"+name] = content
		}
		artifactJSON = artifactsToJSON(entries)
	}

	manifestJSON := `{
		"schema_version": "1.2.0",
		"job_id": "` + jobID + `",
		"run_id": "` + runID + `",
		"job_ref": "jobs/brief.yaml",
		"job_type": "instagram_copy",
		"status": "succeeded",
		"inputs_hash": "` + inputsHash + `",
		"input_snapshots": ` + snapshotJSON + `,
		"artifacts": ` + artifactJSON + `,
		"chain_metadata": {"is_chainable_stage": false, "prior_stages": []}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "manifest.json"), []byte(manifestJSON), 0o644))
}

func snapshotsToJSON(t *testing.T, runDir string, entries map[string]string) string {
	t.Helper()
	out := "{"
	first := true
	for name, content := range entries {
		if !first {
			out += ","
		}
		first = false
		relPath := "inputs/" + name + ".resolved.json"
		out += `"` + name + `": {"path": "` + relPath + `", "sha256": "` + hashWithPrefix(content) + `", "bytes": ` + itoa(len(content)) + `}`
	}
	out += "}"
	return out
}

func artifactsToJSON(entries map[string]string) string {
	out := "{"
	first := true
	for name, content := range entries {
		if !first {
			out += ","
		}
		first = false
		out += `"` + name + `": {"sha256": "` + hashWithPrefix(content) + `", "bytes": ` + itoa(len(content)) + `}`
	}
	out += "}"
	return out
}

func hashWithPrefix(content string) string {
	return "sha256:" + hashHex([]byte(content))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRebuild_IndexesAndVerifiesCleanRuns(t *testing.T) {
	root := t.TempDir()
	artifactsRoot := filepath.Join(root, "artifacts")
	seedRun(t, artifactsRoot, "job-a", "runaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"sha256:deadbeef",
		map[string]string{"brief": `{"a":1}`},
		map[string]string{"caption.md": "hello"})

	idx, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	summary, err := Rebuild(context.Background(), idx, artifactsRoot, fixedClock(time.Unix(0, 0)))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Scanned)
	require.Equal(t, 1, summary.Indexed)

	row, ok, err := idx.Get(context.Background(), "job-a", "runaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "succeeded", row.Status)
	require.Equal(t, "instagram_copy", row.JobType)
}

func TestRebuild_FlagsSnapshotHashMismatch(t *testing.T) {
	root := t.TempDir()
	artifactsRoot := filepath.Join(root, "artifacts")
	seedRun(t, artifactsRoot, "job-b", "runbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"sha256:deadbeef",
		map[string]string{"brief": `{"a":1}`},
		nil)

	tamperedPath := filepath.Join(artifactsRoot, "job-b", "runbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "inputs", "brief.resolved.json")
	require.NoError(t, os.WriteFile(tamperedPath, []byte(`{"a":999}`), 0o644))

	findings, err := Verify(artifactsRoot)
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	found := false
	for _, f := range findings {
		if f.Check == "snapshot_hash_mismatch" || f.Check == "snapshot_size_mismatch" {
			found = true
		}
	}
	require.True(t, found)
}

func TestRebuild_DedupesLegacyAliasInFavorOfCanonical(t *testing.T) {
	root := t.TempDir()
	artifactsRoot := filepath.Join(root, "artifacts")
	seedRun(t, artifactsRoot, "job-c", "runccccccccccccccccccccccccccccc", "sha256:deadbeef", nil, nil)

	legacyRoot := filepath.Join(artifactsRoot, "runs")
	require.NoError(t, os.MkdirAll(legacyRoot, 0o755))
	require.NoError(t, os.Symlink(filepath.Join("..", "job-c", "runccccccccccccccccccccccccccccc"), filepath.Join(legacyRoot, "runccccccccccccccccccccccccccccc")))

	locations, err := Walk(artifactsRoot)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	require.True(t, locations[0].Canonical)
}

func TestVerify_EmptyArtifactsRootIsClean(t *testing.T) {
	root := t.TempDir()
	findings, err := Verify(filepath.Join(root, "artifacts"))
	require.NoError(t, err)
	require.Empty(t, findings)
}
