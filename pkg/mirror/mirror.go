package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Mirror replicates a finalized run directory's files into a BlobStore,
// keyed by each file's own content hash. It implements the engine's
// Mirror collaborator (MirrorRun): a failed or partial mirror never
// affects a run's recorded status, since the run directory on disk
// remains authoritative.
type Mirror struct {
	store BlobStore
}

// New wraps store as a Mirror.
func New(store BlobStore) *Mirror {
	return &Mirror{store: store}
}

// MirrorRun walks every file beneath runDir and stores it in the
// backing BlobStore. It does not attempt to reconstruct the original
// directory layout in the remote backend (that reconstruction, if ever
// needed, is a restore-tool concern outside this package); it only
// guarantees every byte that makes up the run is durably replicated
// somewhere off-box, content-addressed by its own hash.
func (m *Mirror) MirrorRun(ctx context.Context, runDir string) error {
	if m == nil || m.store == nil {
		return nil
	}

	var firstErr error
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			if firstErr == nil {
				firstErr = rerr
			}
			return nil
		}
		if _, serr := m.store.Store(ctx, data); serr != nil {
			if firstErr == nil {
				firstErr = serr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror: walk %s: %w", runDir, err)
	}
	return firstErr
}
