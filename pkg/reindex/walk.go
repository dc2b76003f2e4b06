package reindex

import (
	"os"
	"path/filepath"
)

// Location is one manifest.json found on disk, either at its canonical
// path (artifacts/<job_id>/<run_id>/manifest.json) or reached only
// through the legacy artifacts/runs/<run_id> alias.
type Location struct {
	JobID        string
	RunID        string
	RunDir       string
	ManifestPath string
	Canonical    bool
}

// Walk discovers every manifest.json beneath artifactsRoot, deduplicated
// by run_id with the canonical path preferred over the legacy runs/
// alias.
func Walk(artifactsRoot string) ([]Location, error) {
	byRunID := make(map[string]Location)

	entries, err := os.ReadDir(artifactsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, jobEntry := range entries {
		if !jobEntry.IsDir() {
			continue
		}
		jobID := jobEntry.Name()
		if jobID == "runs" || jobID == ".tmp" {
			continue
		}
		jobDir := filepath.Join(artifactsRoot, jobID)

		runEntries, err := os.ReadDir(jobDir)
		if err != nil {
			continue
		}
		for _, runEntry := range runEntries {
			if !runEntry.IsDir() {
				continue
			}
			runID := runEntry.Name()
			runDir := filepath.Join(jobDir, runID)
			manifestPath := filepath.Join(runDir, "manifest.json")
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
			byRunID[runID] = Location{
				JobID:        jobID,
				RunID:        runID,
				RunDir:       runDir,
				ManifestPath: manifestPath,
				Canonical:    true,
			}
		}
	}

	legacyRoot := filepath.Join(artifactsRoot, "runs")
	legacyEntries, err := os.ReadDir(legacyRoot)
	if err == nil {
		for _, e := range legacyEntries {
			runID := e.Name()
			if _, exists := byRunID[runID]; exists {
				continue
			}
			runDir := filepath.Join(legacyRoot, runID)
			resolved, err := filepath.EvalSymlinks(runDir)
			if err != nil {
				continue
			}
			manifestPath := filepath.Join(resolved, "manifest.json")
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
			jobID := filepath.Base(filepath.Dir(resolved))
			byRunID[runID] = Location{
				JobID:        jobID,
				RunID:        runID,
				RunDir:       resolved,
				ManifestPath: manifestPath,
				Canonical:    false,
			}
		}
	}

	locations := make([]Location, 0, len(byRunID))
	for _, loc := range byRunID {
		locations = append(locations, loc)
	}
	return locations, nil
}
