// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of run inputs and artifacts.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v, using the
// gowebpki/jcs transform over a struct-tag-aware intermediate encoding.
//
// Key features:
// 1. Map keys are sorted lexicographically by UTF-8 bytes.
// 2. HTML escaping is DISABLED (unlike standard json.Marshal).
// 3. Numbers (including json.Number values) are re-serialized in RFC 8785 form, e.g. 1.0 becomes 1.
func JCS(v interface{}) ([]byte, error) {
	// Marshal to intermediate JSON (standard) first so struct tags, omitempty,
	// and custom MarshalJSON implementations are respected; jcs.Transform then
	// re-serializes that JSON into RFC 8785 canonical form.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// Indent reformats compact canonical JSON (as returned by JCS) into the
// 2-space indented, trailing-newline form used for on-disk snapshots and
// manifests. json.Indent does not reorder object keys, so the canonical
// key ordering produced by JCS is preserved byte-for-byte modulo whitespace.
func Indent(compact []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("jcs: indent failed: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MarshalIndented is a convenience wrapper: canonicalize v, then format it
// for disk storage with 2-space indentation and a trailing newline.
func MarshalIndented(v interface{}) ([]byte, error) {
	compact, err := JCS(v)
	if err != nil {
		return nil, err
	}
	return Indent(compact)
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the JCS canonical form as a string
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
