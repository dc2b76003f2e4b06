// Package doctrine resolves versioned, hashed doctrine text (typically a
// prompt template) from a single canonical root against a closed
// allow-list of doctrine ids.
package doctrine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// allowedIDs is the closed set of doctrine identifiers the engine knows
// how to resolve. There is no path for adding one outside this list.
var allowedIDs = map[string]bool{
	"prompts/instagram_copy":         true,
	"prompts/brand_compliance_score": true,
}

// NotFoundError indicates the canonical root has no file at the
// resolved path.
type NotFoundError struct {
	DoctrineID string
	Version    string
	Filename   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("doctrine not found: %s/%s/%s", e.DoctrineID, e.Version, e.Filename)
}

func (e *NotFoundError) Kind() string { return "DoctrineNotFound" }

// UnsafeError indicates a component of the requested doctrine reference
// is not in the allow-list or contains a path-traversal attempt.
type UnsafeError struct {
	Reason string
}

func (e *UnsafeError) Error() string { return "doctrine unsafe: " + e.Reason }

func (e *UnsafeError) Kind() string { return "DoctrineUnsafe" }

// Reference is the resolved, hashed identity of a doctrine file.
// ResolvedAt is captured for human-facing logs but must never be
// serialized into a hashed or deterministic projection.
type Reference struct {
	DoctrineID   string `json:"doctrine_id"`
	Version      string `json:"version"`
	SHA256       string `json:"sha256"`
	ResolvedPath string `json:"resolved_path,omitempty"`
	ResolvedAt   string `json:"-"`
}

// Loader resolves doctrine files against a single configured root.
// There is deliberately no multi-root probing: one deployment, one
// canonical doctrine location.
type Loader struct {
	root string
}

// NewLoader returns a Loader rooted at root.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Load reads the doctrine file at <root>/<doctrineID>/<version>/<filename>
// and returns its content alongside a Reference.
func (l *Loader) Load(doctrineID, version, filename string) (string, *Reference, error) {
	if !allowedIDs[doctrineID] {
		return "", nil, &UnsafeError{Reason: fmt.Sprintf("unsupported doctrine_id: %s", doctrineID)}
	}
	if err := validateComponent(doctrineID); err != nil {
		return "", nil, err
	}
	if err := validateComponent(version); err != nil {
		return "", nil, err
	}
	if err := validateComponent(filename); err != nil {
		return "", nil, err
	}
	for _, part := range []string{version, filename} {
		if strings.ContainsAny(part, `/\`) {
			return "", nil, &UnsafeError{Reason: fmt.Sprintf("path separator in component: %q", part)}
		}
	}

	relPath := filepath.Join(doctrineID, version, filename)
	fullPath := filepath.Join(l.root, relPath)

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, &NotFoundError{DoctrineID: doctrineID, Version: version, Filename: filename}
		}
		return "", nil, fmt.Errorf("doctrine: read %s: %w", fullPath, err)
	}

	ref := &Reference{
		DoctrineID:   doctrineID,
		Version:      version,
		SHA256:       "sha256:" + canonicalize.HashBytes(content),
		ResolvedPath: filepath.ToSlash(relPath),
	}

	return string(content), ref, nil
}

func validateComponent(s string) error {
	if s == "" {
		return &UnsafeError{Reason: "empty path component"}
	}
	if strings.HasPrefix(s, "/") {
		return &UnsafeError{Reason: fmt.Sprintf("absolute path component: %q", s)}
	}
	for _, part := range strings.Split(s, "/") {
		if part == ".." {
			return &UnsafeError{Reason: fmt.Sprintf("path traversal in component: %q", s)}
		}
	}
	return nil
}

// AllowedIDs returns the closed set of doctrine ids this loader accepts,
// for diagnostic/CLI use.
func AllowedIDs() []string {
	ids := make([]string, 0, len(allowedIDs))
	for id := range allowedIDs {
		ids = append(ids, id)
	}
	return ids
}
