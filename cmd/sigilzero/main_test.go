package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero"}, &out, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, out.String(), "USAGE")
}

func TestRun_UnknownCommandErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero", "bogus"}, &out, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "Unknown command")
}

func TestRun_HelpSucceeds(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero", "help"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "sigilzero")
}

func TestRun_SweepRemovesStaleStagingDir(t *testing.T) {
	repoRoot := t.TempDir()
	t.Setenv("SIGILZERO_REPO_ROOT", repoRoot)

	stalePath := filepath.Join(repoRoot, "artifacts", "job-1", ".tmp", "tmp-stale")
	require.NoError(t, os.MkdirAll(stalePath, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero", "sweep", "--older-than-hours", "1"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "removed:")

	_, err := os.Stat(stalePath)
	require.True(t, os.IsNotExist(err))
}

func TestRun_SweepDryRunKeepsStaleDir(t *testing.T) {
	repoRoot := t.TempDir()
	t.Setenv("SIGILZERO_REPO_ROOT", repoRoot)

	stalePath := filepath.Join(repoRoot, "artifacts", "job-1", ".tmp", "tmp-stale")
	require.NoError(t, os.MkdirAll(stalePath, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero", "sweep", "--older-than-hours", "1", "--dry-run"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "would remove:")

	_, err := os.Stat(stalePath)
	require.NoError(t, err)
}

func TestRun_MigrateDryRunLeavesManifestUntouched(t *testing.T) {
	repoRoot := t.TempDir()
	manifestPath := filepath.Join(repoRoot, "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`{"schema_version":"1.0.0","job_id":"ig-001","run_id":"abc123"}`), 0o644))

	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero", "migrate", "--manifest", manifestPath, "--dry-run"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "dry-run")

	unchanged, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	require.JSONEq(t, `{"schema_version":"1.0.0","job_id":"ig-001","run_id":"abc123"}`, string(unchanged))
	require.NoFileExists(t, manifestPath+".backup")
}

func TestRun_VerifyEmptyArtifactsRootIsClean(t *testing.T) {
	repoRoot := t.TempDir()
	t.Setenv("SIGILZERO_REPO_ROOT", repoRoot)

	var out, errOut bytes.Buffer
	code := Run([]string{"sigilzero", "verify"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "OK")
}
