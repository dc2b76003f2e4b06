// Package runid derives the content-addressed inputs_hash and run_id for
// a run from its written input snapshots. No data other than the
// snapshot file hashes may participate in the derivation.
package runid

import (
	"fmt"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// ComputeInputsHash returns "sha256:<hex>" over the canonical JSON of the
// mapping {name -> file_sha256}, where snapshotHashes already carries the
// "sha256:" prefixed hash of each snapshot file's bytes.
func ComputeInputsHash(snapshotHashes map[string]string) (string, error) {
	digest, err := canonicalize.CanonicalHash(snapshotHashes)
	if err != nil {
		return "", fmt.Errorf("runid: compute inputs_hash: %w", err)
	}
	return "sha256:" + digest, nil
}

// DeriveRunIDBase returns the first 32 hex characters of inputsHash (with
// any "sha256:" prefix stripped first).
func DeriveRunIDBase(inputsHash string) string {
	hex := stripPrefix(inputsHash)
	if len(hex) < 32 {
		return hex
	}
	return hex[:32]
}

// DeriveRunID applies an optional deterministic collision suffix to a
// run_id base. suffix <= 1 returns the base unmodified.
func DeriveRunID(inputsHash string, suffix int) string {
	base := DeriveRunIDBase(inputsHash)
	if suffix <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, suffix)
}

func stripPrefix(hash string) string {
	const prefix = "sha256:"
	if len(hash) > len(prefix) && hash[:len(prefix)] == prefix {
		return hash[len(prefix):]
	}
	return hash
}
