package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/manifest"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/runid"
)

// collisionResolution is the outcome of walking the candidate run_id
// suffix space for a freshly computed inputs_hash (C6).
type collisionResolution struct {
	runID            string
	resolvedDir      string
	idempotentReplay bool
	actions          []string
}

// resolveCollision enumerates run_id_base, run_id_base-2, ... up to
// maxCollisionSuffix, promoting any legacy plain directory it encounters
// to canonical before inspecting it, and returns either a freshly
// reserved run_id or the run_id of a byte-identical prior run
// (idempotent replay).
func (e *Engine) resolveCollision(ctx context.Context, jobRoot, jobID, inputsHash, runIDBase string) (*collisionResolution, error) {
	legacyRunsRoot := filepath.Join(e.RepoRoot, "artifacts", "runs")
	var actions []string

	for suffix := 1; suffix <= maxCollisionSuffix; suffix++ {
		candidateRunID := runid.DeriveRunID(inputsHash, suffix)
		canonicalDir := filepath.Join(jobRoot, candidateRunID)
		legacyDir := filepath.Join(legacyRunsRoot, candidateRunID)

		resolvedDir, isLegacyPlain, exists, err := resolveExisting(canonicalDir, legacyDir)
		if err != nil {
			return nil, err
		}

		if isLegacyPlain {
			promoted, perr := e.promoteLegacyDir(ctx, legacyDir, canonicalDir, candidateRunID, jobID)
			if perr != nil {
				return nil, perr
			}
			resolvedDir = promoted
			actions = append(actions, fmt.Sprintf("legacy_promoted:%s", candidateRunID))
		}

		if !exists {
			return &collisionResolution{runID: candidateRunID, resolvedDir: canonicalDir, actions: actions}, nil
		}

		existingHash, err := readManifestInputsHash(resolvedDir)
		if err != nil {
			return nil, err
		}

		if existingHash == inputsHash {
			return &collisionResolution{
				runID:            candidateRunID,
				resolvedDir:      resolvedDir,
				idempotentReplay: true,
				actions:          actions,
			}, nil
		}
		// Different inputs_hash at this suffix: advance and re-check with
		// a fresh directory listing on the next iteration.
	}

	return nil, &CollisionLimitExceededError{RunIDBase: runIDBase}
}

// resolveExisting reports whether a run already occupies candidateRunID,
// preferring the canonical directory and falling back to the legacy
// runs/ alias (either a symlink to canonical, or, predating the
// job_id/run_id split, a plain directory that needs promotion).
func resolveExisting(canonicalDir, legacyDir string) (resolvedDir string, isLegacyPlain bool, exists bool, err error) {
	if info, statErr := os.Stat(canonicalDir); statErr == nil && info.IsDir() {
		return canonicalDir, false, true, nil
	} else if statErr != nil && !os.IsNotExist(statErr) {
		return "", false, false, fmt.Errorf("engine: stat %s: %w", canonicalDir, statErr)
	}

	lst, lerr := os.Lstat(legacyDir)
	if lerr != nil {
		return "", false, false, nil
	}

	if lst.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(legacyDir)
		if rerr != nil {
			return "", false, false, nil
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(legacyDir), resolved)
		}
		if info, serr := os.Stat(resolved); serr == nil && info.IsDir() {
			return resolved, false, true, nil
		}
		return "", false, false, nil
	}

	if lst.IsDir() {
		return legacyDir, true, true, nil
	}

	return "", false, false, nil
}

// promoteLegacyDir renames a plain legacy directory into its canonical
// location and replaces it with a relative symlink, serialized by the
// promotion lock keyed by run_id.
func (e *Engine) promoteLegacyDir(ctx context.Context, legacyDir, canonicalDir, runID, jobID string) (string, error) {
	release, err := e.Locker.Acquire(ctx, runID)
	if err != nil {
		return "", &FinalizeFailureError{Reason: fmt.Sprintf("acquire promotion lock for %s: %v", runID, err)}
	}
	defer release()

	if info, statErr := os.Stat(canonicalDir); statErr == nil && info.IsDir() {
		// Another racer already promoted it; nothing to do.
		return canonicalDir, nil
	}

	if err := os.MkdirAll(filepath.Dir(canonicalDir), 0o755); err != nil {
		return "", &FinalizeFailureError{Reason: fmt.Sprintf("prepare canonical parent: %v", err)}
	}
	if err := os.Rename(legacyDir, canonicalDir); err != nil {
		return "", &FinalizeFailureError{Reason: fmt.Sprintf("promote legacy dir %s: %v", legacyDir, err)}
	}

	relTarget := filepath.Join("..", jobID, runID)
	if err := os.Symlink(relTarget, legacyDir); err != nil {
		e.Logger.Warn("legacy symlink recreation after promotion failed", "run_id", runID, "error", err.Error())
	}

	return canonicalDir, nil
}

func readManifestInputsHash(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return "", fmt.Errorf("engine: read manifest at %s: %w", dir, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return "", fmt.Errorf("engine: parse manifest at %s: %w", dir, err)
	}
	if m.InputsHash == nil {
		return "", nil
	}
	return *m.InputsHash, nil
}
