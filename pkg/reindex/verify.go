package reindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/manifest"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/runid"
)

// Finding is one failed invariant check against a run on disk.
type Finding struct {
	JobID   string
	RunID   string
	Check   string
	Message string
}

var collisionSuffixPattern = regexp.MustCompile(`^([0-9a-f]{32})-([0-9]+)$`)

// VerifyManifest checks loc's manifest against every invariant a run
// must satisfy: structural schema validity, snapshot file presence and
// hash integrity, inputs_hash re-derivation, and run_id derivation.
// It returns every Finding rather
// than stopping at the first failure, plus the parsed manifest (nil if
// the manifest itself could not be parsed).
func VerifyManifest(loc Location) ([]Finding, *manifest.Manifest, error) {
	data, err := os.ReadFile(loc.ManifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reindex: read %s: %w", loc.ManifestPath, err)
	}

	var findings []Finding
	fail := func(check, format string, args ...interface{}) {
		findings = append(findings, Finding{JobID: loc.JobID, RunID: loc.RunID, Check: check, Message: fmt.Sprintf(format, args...)})
	}

	if err := manifest.ValidateStructure(data); err != nil {
		fail("schema", "%v", err)
	}

	m, err := manifest.Parse(data)
	if err != nil {
		fail("parse", "%v", err)
		return findings, nil, nil
	}

	if m.JobID != loc.JobID {
		fail("job_id_mismatch", "manifest job_id %q does not match directory job_id %q", m.JobID, loc.JobID)
	}
	if m.RunID != loc.RunID {
		fail("run_id_mismatch", "manifest run_id %q does not match directory run_id %q", m.RunID, loc.RunID)
	}

	snapshotHashes := make(map[string]string, len(m.InputSnapshots))
	for name, entry := range m.InputSnapshots {
		snapshotHashes[name] = entry.SHA256

		fullPath := filepath.Join(loc.RunDir, filepath.FromSlash(entry.Path))
		content, err := os.ReadFile(fullPath)
		if err != nil {
			fail("snapshot_missing", "input snapshot %q: %v", name, err)
			continue
		}
		if int64(len(content)) != entry.Bytes {
			fail("snapshot_size_mismatch", "input snapshot %q: declared %d bytes, found %d", name, entry.Bytes, len(content))
		}
		if got := hashHex(content); got != stripSHAPrefix(entry.SHA256) {
			fail("snapshot_hash_mismatch", "input snapshot %q: declared %s, recomputed sha256:%s", name, entry.SHA256, got)
		}
	}

	if m.InputsHash != nil {
		recomputed, err := runid.ComputeInputsHash(snapshotHashes)
		if err != nil {
			fail("inputs_hash_unverifiable", "%v", err)
		} else if recomputed != *m.InputsHash {
			fail("inputs_hash_mismatch", "declared %s, recomputed %s", *m.InputsHash, recomputed)
		}

		if err := verifyRunIDDerivation(*m.InputsHash, m.RunID); err != nil {
			fail("run_id_derivation", "%v", err)
		}
	} else {
		fail("inputs_hash_missing", "manifest has no inputs_hash recorded")
	}

	for name, artifact := range m.Artifacts {
		fullPath := filepath.Join(loc.RunDir, filepath.FromSlash(name))
		content, err := os.ReadFile(fullPath)
		if err != nil {
			fail("artifact_missing", "output artifact %q: %v", name, err)
			continue
		}
		if int64(len(content)) != artifact.Bytes {
			fail("artifact_size_mismatch", "output artifact %q: declared %d bytes, found %d", name, artifact.Bytes, len(content))
		}
		if got := hashHex(content); got != stripSHAPrefix(artifact.SHA256) {
			fail("artifact_hash_mismatch", "output artifact %q: declared %s, recomputed sha256:%s", name, artifact.SHA256, got)
		}
	}

	if m.Doctrine != nil {
		verifyDoctrine(loc, m, fail)
	}

	return findings, m, nil
}

// verifyDoctrine rehashes the doctrine content recorded in the doctrine
// input snapshot against the manifest's doctrine.sha256, the same
// content-integrity check applied to snapshots and artifacts above.
func verifyDoctrine(loc Location, m *manifest.Manifest, fail func(check, format string, args ...interface{})) {
	if strings.TrimSpace(m.Doctrine.SHA256) == "" {
		fail("doctrine_hash_missing", "doctrine reference %s/%s has no sha256", m.Doctrine.DoctrineID, m.Doctrine.Version)
		return
	}

	entry, ok := m.InputSnapshots["doctrine"]
	if !ok {
		fail("doctrine_snapshot_missing", "doctrine reference %s/%s has no doctrine input snapshot", m.Doctrine.DoctrineID, m.Doctrine.Version)
		return
	}

	data, err := os.ReadFile(filepath.Join(loc.RunDir, filepath.FromSlash(entry.Path)))
	if err != nil {
		// The snapshot loop above already reported the missing file.
		return
	}

	var snap struct {
		Content *string `json:"content"`
	}
	if jerr := json.Unmarshal(data, &snap); jerr != nil || snap.Content == nil {
		fail("doctrine_unverifiable", "doctrine snapshot %q carries no content field to rehash", entry.Path)
		return
	}

	if got := hashHex([]byte(*snap.Content)); got != stripSHAPrefix(m.Doctrine.SHA256) {
		fail("doctrine_hash_mismatch", "doctrine %s/%s: declared %s, recomputed sha256:%s",
			m.Doctrine.DoctrineID, m.Doctrine.Version, m.Doctrine.SHA256, got)
	}
}

// verifyRunIDDerivation checks runID equals either DeriveRunIDBase(inputsHash)
// or a valid deterministic collision suffix of it (suffix >= 2).
func verifyRunIDDerivation(inputsHash, runID string) error {
	base := runid.DeriveRunIDBase(inputsHash)
	if runID == base {
		return nil
	}

	match := collisionSuffixPattern.FindStringSubmatch(runID)
	if match == nil || match[1] != base {
		return fmt.Errorf("run_id %q does not derive from inputs_hash base %q", runID, base)
	}
	suffix, err := strconv.Atoi(match[2])
	if err != nil || suffix < 2 {
		return fmt.Errorf("run_id %q has an invalid collision suffix", runID)
	}
	return nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func stripSHAPrefix(hash string) string {
	const prefix = "sha256:"
	if strings.HasPrefix(hash, prefix) {
		return hash[len(prefix):]
	}
	return hash
}
