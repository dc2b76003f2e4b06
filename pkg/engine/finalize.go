package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// finalize renames tmpDir to finalDir (the sole mutation providing
// mutual exclusion via POSIX rename atomicity) and ensures the legacy
// runs/<run_id> symlink exists. Symlink failure is logged, not raised.
func (e *Engine) finalize(ctx context.Context, tmpDir, finalDir, jobID, runID string) ([]string, error) {
	if err := os.Rename(tmpDir, finalDir); err != nil {
		if info, statErr := os.Stat(finalDir); statErr == nil && info.IsDir() {
			// A concurrent racer won the rename to the same run_id; treat
			// their directory as authoritative and discard ours.
			_ = os.RemoveAll(tmpDir)
			return []string{"idempotent_replay_race_lost"}, nil
		}
		return nil, &FinalizeFailureError{Reason: fmt.Sprintf("rename %s -> %s: %v", tmpDir, finalDir, err)}
	}

	legacyLink := filepath.Join(e.RepoRoot, "artifacts", "runs", runID)
	if err := os.MkdirAll(filepath.Dir(legacyLink), 0o755); err != nil {
		e.Logger.Warn("legacy alias parent dir failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return []string{"legacy_alias_skipped"}, nil
	}

	if _, err := os.Lstat(legacyLink); err == nil {
		_ = os.Remove(legacyLink)
	}

	relTarget := filepath.Join("..", jobID, runID)
	if err := os.Symlink(relTarget, legacyLink); err != nil {
		e.Logger.Warn("legacy alias symlink failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return []string{"legacy_alias_skipped"}, nil
	}

	return []string{"legacy_alias_created"}, nil
}
