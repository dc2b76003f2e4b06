package migration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fixedNow() string { return "2026-01-01T00:00:00Z" }

func writeManifest(t *testing.T, dir string, doc map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.json")
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFindPath_PrefersDirectEdge(t *testing.T) {
	r := NewRegistry()
	path, err := r.FindPath("1.0.0", "1.2.0")
	require.NoError(t, err)
	require.Len(t, path, 1)
	require.Equal(t, "1.0.0", path[0].From)
	require.Equal(t, "1.2.0", path[0].To)
}

func TestFindPath_MultiHopWhenNoDirectEdge(t *testing.T) {
	r := NewRegistry()
	// Force a search that must hop: remove the direct edge and retry.
	delete(r.edges, "1.0.0|1.2.0")
	r.from["1.0.0"] = r.from["1.0.0"][:1] // keep only 1.0.0->1.1.0

	path, err := r.FindPath("1.0.0", "1.2.0")
	require.NoError(t, err)
	require.Len(t, path, 2)
	require.Equal(t, "1.1.0", path[0].To)
	require.Equal(t, "1.2.0", path[1].To)
}

func TestFindPath_NoPathReturnsError(t *testing.T) {
	r := NewRegistry()
	_, err := r.FindPath("1.2.0", "9.9.9")
	require.Error(t, err)
}

func TestLatestVersion(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, "1.2.0", r.LatestVersion())
}

func TestMigrateManifest_FromV1ToLatest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, map[string]interface{}{
		"schema_version": "1.0.0",
		"job_id":         "ig-001",
		"run_id":         "abc123",
	})

	e := NewEngine(fixedNow)
	details, err := e.MigrateManifest(path, "")
	require.NoError(t, err)
	require.False(t, details.AlreadyCurrent)
	require.Equal(t, "1.2.0", details.TargetVersion)
	require.FileExists(t, details.BackupPath)

	migrated, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(migrated, &doc))

	require.Equal(t, "1.2.0", doc["schema_version"])
	require.Equal(t, "ig-001", doc["job_id"])
	require.Equal(t, "abc123", doc["run_id"])
	require.Contains(t, doc, "input_snapshots")
	require.Contains(t, doc, "chain_metadata")

	history, ok := doc["migration_history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 1)
}

func TestPlanMigration_ComputesTargetAndDiffWithoutTouchingDisk(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, map[string]interface{}{
		"schema_version": "1.0.0",
		"job_id":         "ig-001",
		"run_id":         "abc123",
	})
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	e := NewEngine(fixedNow)
	plan, err := e.PlanMigration(path, "")
	require.NoError(t, err)
	require.False(t, plan.AlreadyCurrent)
	require.Equal(t, "1.0.0", plan.CurrentVersion)
	require.Equal(t, "1.2.0", plan.TargetVersion)
	require.Equal(t, "ig-001", plan.After["job_id"])
	require.Equal(t, "1.2.0", plan.After["schema_version"])
	require.Contains(t, plan.After, "input_snapshots")
	require.Contains(t, plan.After, "chain_metadata")
	require.NotEmpty(t, plan.Changes)
	require.NotEqual(t, plan.ChecksumBefore, plan.ChecksumAfter)

	// The manifest on disk, its backup, and the .tmp staging file are
	// all untouched: dry-run never writes.
	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, unchanged)
	require.NoFileExists(t, path+".backup")
	require.NoFileExists(t, path+".tmp")
}

func TestPlanMigration_AlreadyCurrent(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, map[string]interface{}{
		"schema_version": "1.2.0",
		"job_id":         "ig-002",
	})

	e := NewEngine(fixedNow)
	plan, err := e.PlanMigration(path, "1.2.0")
	require.NoError(t, err)
	require.True(t, plan.AlreadyCurrent)
	require.Empty(t, plan.Changes)
}

func TestPlanTree_ComputesPlansWithoutTouchingDisk(t *testing.T) {
	dir := t.TempDir()
	run1 := filepath.Join(dir, "job-a", "run-1")
	run2 := filepath.Join(dir, "job-a", "run-2")
	require.NoError(t, os.MkdirAll(run1, 0o755))
	require.NoError(t, os.MkdirAll(run2, 0o755))
	writeManifest(t, run1, map[string]interface{}{"schema_version": "1.0.0", "job_id": "a"})
	writeManifest(t, run2, map[string]interface{}{"schema_version": "1.2.0", "job_id": "a"})

	e := NewEngine(fixedNow)
	plans, err := e.PlanTree(dir, "")
	require.NoError(t, err)
	require.Len(t, plans, 2)

	for _, plan := range plans {
		require.NoFileExists(t, plan.Path+".backup")
	}
}

func TestMigrateManifest_AlreadyAtTargetIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, map[string]interface{}{
		"schema_version": "1.2.0",
		"job_id":         "ig-002",
	})

	e := NewEngine(fixedNow)
	details, err := e.MigrateManifest(path, "1.2.0")
	require.NoError(t, err)
	require.True(t, details.AlreadyCurrent)
	require.Empty(t, details.BackupPath)
}

func TestMigrateManifest_PreservesJobIDAndRunID(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, map[string]interface{}{
		"schema_version": "1.1.0",
		"job_id":         "preserve-me",
		"run_id":         "run-xyz",
	})

	e := NewEngine(fixedNow)
	_, err := e.MigrateManifest(path, "1.2.0")
	require.NoError(t, err)

	migrated, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(migrated, &doc))
	require.Equal(t, "preserve-me", doc["job_id"])
	require.Equal(t, "run-xyz", doc["run_id"])
}

func TestMigrateTree_WalksAndTallies(t *testing.T) {
	root := t.TempDir()

	d1 := filepath.Join(root, "run-1")
	d2 := filepath.Join(root, "run-2")
	require.NoError(t, os.MkdirAll(d1, 0o755))
	require.NoError(t, os.MkdirAll(d2, 0o755))

	writeManifest(t, d1, map[string]interface{}{"schema_version": "1.0.0", "job_id": "a"})
	writeManifest(t, d2, map[string]interface{}{"schema_version": "1.2.0", "job_id": "b"})

	e := NewEngine(fixedNow)
	summary, err := e.MigrateTree(root, "")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Migrated)
	require.Equal(t, 1, summary.AlreadyCurrent)
	require.Equal(t, 0, summary.Failed)
}

func TestMigrateManifest_UnknownPathFails(t *testing.T) {
	e := NewEngine(fixedNow)
	_, err := e.MigrateManifest("/nonexistent/manifest.json", "1.2.0")
	require.Error(t, err)

	var migErr *Error
	require.ErrorAs(t, err, &migErr)
	require.Equal(t, "MigrationFailure", migErr.Kind())
}
