package reindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Summary is the outcome of a Rebuild pass.
type Summary struct {
	Scanned  int
	Indexed  int
	Findings []Finding
}

// Rebuild walks artifactsRoot, verifies every run found, and upserts a
// row per run into idx. Verification findings are accumulated and
// returned but never block indexing: the index reflects what is on
// disk, accurate or not, so a later `verify`-only pass can surface
// drift without needing a second tree walk.
func Rebuild(ctx context.Context, idx *Index, artifactsRoot string, now func() time.Time) (*Summary, error) {
	locations, err := Walk(artifactsRoot)
	if err != nil {
		return nil, fmt.Errorf("reindex: walk %s: %w", artifactsRoot, err)
	}

	summary := &Summary{Scanned: len(locations)}
	for _, loc := range locations {
		findings, m, err := VerifyManifest(loc)
		if err != nil {
			summary.Findings = append(summary.Findings, Finding{JobID: loc.JobID, RunID: loc.RunID, Check: "unreadable", Message: err.Error()})
			continue
		}
		summary.Findings = append(summary.Findings, findings...)
		if m == nil {
			continue
		}

		manifestJSON, err := os.ReadFile(loc.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("reindex: reread %s: %w", loc.ManifestPath, err)
		}

		inputsHash := ""
		if m.InputsHash != nil {
			inputsHash = *m.InputsHash
		}

		row := Row{
			JobID:        m.JobID,
			RunID:        m.RunID,
			JobRef:       m.JobRef,
			JobType:      m.JobType,
			Status:       string(m.Status),
			InputsHash:   inputsHash,
			ArtifactDir:  loc.RunDir,
			ManifestJSON: string(manifestJSON),
			IndexedAt:    now().UTC().Format(time.RFC3339Nano),
		}
		if err := idx.Upsert(ctx, row); err != nil {
			return nil, err
		}
		summary.Indexed++
	}

	return summary, nil
}

// Verify walks artifactsRoot and returns every integrity Finding
// without touching the secondary index. It is the read-only form used
// by the `verify` CLI subcommand;
// a non-empty result should cause the caller to exit non-zero.
func Verify(artifactsRoot string) ([]Finding, error) {
	locations, err := Walk(artifactsRoot)
	if err != nil {
		return nil, fmt.Errorf("reindex: walk %s: %w", artifactsRoot, err)
	}

	var findings []Finding
	for _, loc := range locations {
		f, _, err := VerifyManifest(loc)
		if err != nil {
			findings = append(findings, Finding{JobID: loc.JobID, RunID: loc.RunID, Check: "unreadable", Message: err.Error()})
			continue
		}
		findings = append(findings, f...)
	}
	return findings, nil
}

// DefaultDSN returns a filesystem-backed sqlite DSN rooted at repoRoot,
// used when SIGILZERO_INDEX_DSN is unset.
func DefaultDSN(repoRoot string) string {
	return filepath.Join(repoRoot, "index.sqlite")
}
