// Package chain resolves a downstream run's chain_inputs against a prior
// run's on-disk artifact, producing the prior_artifact snapshot input.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/manifest"
)

// MissingError reports that the prior artifact a chain needs cannot be
// used: not found, missing a required output, or an upstream job_type
// mismatch. All three collapse to this single kind: the type check
// failing means, from the downstream run's perspective, the prior
// artifact it needs does not exist.
type MissingError struct {
	Reason string
}

func (e *MissingError) Error() string { return "prior artifact missing: " + e.Reason }

func (e *MissingError) Kind() string { return "PriorArtifactMissing" }

// PriorManifestRef is the trimmed view of the prior run's manifest
// carried into the downstream snapshot.
type PriorManifestRef struct {
	JobID      string  `json:"job_id"`
	RunID      string  `json:"run_id"`
	JobType    string  `json:"job_type"`
	InputsHash *string `json:"inputs_hash"`
}

// Snapshot is the prior_artifact input payload handed to the snapshot
// writer (pkg/snapshot) for a chained run.
type Snapshot struct {
	PriorRunID       string            `json:"prior_run_id"`
	PriorStage       string            `json:"prior_stage"`
	PriorJobID       string            `json:"prior_job_id"`
	PriorManifest    PriorManifestRef  `json:"prior_manifest"`
	RequiredOutputs  []string          `json:"required_outputs"`
	PriorOutputHashes map[string]string `json:"prior_output_hashes"`
}

// Resolve locates the run directory for priorRunID under artifactsRoot,
// validates required outputs and the upstream job_type, and builds the
// prior_artifact snapshot. expectedUpstreamType is the job_type this
// chain edge requires the prior run to have produced; pass "" to skip
// the check (an edge with no declared upstream constraint).
func Resolve(artifactsRoot, priorRunID, priorStage string, requiredOutputs []string, expectedUpstreamType string) (*Snapshot, error) {
	runDir, jobID, err := locate(artifactsRoot, priorRunID)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(runDir, "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &MissingError{Reason: fmt.Sprintf("read prior manifest: %v", err)}
	}
	priorManifest, err := manifest.Parse(raw)
	if err != nil {
		return nil, &MissingError{Reason: fmt.Sprintf("parse prior manifest: %v", err)}
	}

	if expectedUpstreamType != "" && priorManifest.JobType != expectedUpstreamType {
		return nil, &MissingError{Reason: fmt.Sprintf(
			"upstream job_type mismatch: expected %q, prior run %s is %q",
			expectedUpstreamType, priorRunID, priorManifest.JobType)}
	}

	priorOutputHashes := make(map[string]string, len(requiredOutputs))
	for _, rel := range requiredOutputs {
		outputPath := filepath.Join(runDir, "outputs", rel)
		data, err := os.ReadFile(outputPath)
		if err != nil {
			return nil, &MissingError{Reason: fmt.Sprintf("required output missing: %s", rel)}
		}
		sum := sha256.Sum256(data)
		priorOutputHashes[rel] = "sha256:" + hex.EncodeToString(sum[:])
	}

	return &Snapshot{
		PriorRunID: priorRunID,
		PriorStage: priorStage,
		PriorJobID: jobID,
		PriorManifest: PriorManifestRef{
			JobID:      priorManifest.JobID,
			RunID:      priorManifest.RunID,
			JobType:    priorManifest.JobType,
			InputsHash: priorManifest.InputsHash,
		},
		RequiredOutputs:   requiredOutputs,
		PriorOutputHashes: priorOutputHashes,
	}, nil
}

// locate searches artifactsRoot/*/priorRunID for a directory containing
// manifest.json, returning its path and owning job_id directory name.
func locate(artifactsRoot, priorRunID string) (runDir string, jobID string, err error) {
	entries, err := os.ReadDir(artifactsRoot)
	if err != nil {
		return "", "", &MissingError{Reason: fmt.Sprintf("read artifacts root: %v", err)}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(artifactsRoot, e.Name(), priorRunID)
		if info, statErr := os.Stat(filepath.Join(candidate, "manifest.json")); statErr == nil && !info.IsDir() {
			return candidate, e.Name(), nil
		}
	}

	return "", "", &MissingError{Reason: fmt.Sprintf("no run %s found under %s", priorRunID, artifactsRoot)}
}
