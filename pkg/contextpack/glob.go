// Package contextpack assembles the context a job body sees: either a
// glob-based ordered concatenation of repository files, or a deterministic
// BM25 keyword retrieval over the same kind of corpus.
package contextpack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// Selector names one walk root plus include/exclude glob patterns. Root
// is repo-relative ("" or "." meaning the repo root itself); an absolute
// Root is accepted but every emitted path is still relativized to the
// repo root, so the hashed snapshot never carries a machine-specific
// prefix.
type Selector struct {
	Root           string   `json:"root"`
	IncludeGlobs   []string `json:"include_globs"`
	ExcludeGlobs   []string `json:"exclude_globs,omitempty"`
}

// GlobResult is the outcome of the glob strategy: concatenated content
// plus its content hash.
type GlobResult struct {
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
	Files       []string `json:"files"`
}

// AssembleGlob walks each selector's root under repoRoot, matches include
// globs, excludes excludes, deduplicates by repo-relative path,
// stable-sorts lexicographically, truncates to maxFiles, and concatenates
// with a "# FILE: <repo-relative>" header between entries. Every recorded
// path is repo-relative POSIX, so the same brief and corpus produce the
// same bytes regardless of where the repo is checked out.
func AssembleGlob(repoRoot string, selectors []Selector, maxFiles int) (*GlobResult, error) {
	seen := make(map[string]bool)
	var matched []string

	for _, sel := range selectors {
		files, err := walkMatching(repoRoot, sel)
		if err != nil {
			return nil, fmt.Errorf("contextpack: glob selector %q: %w", sel.Root, err)
		}
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				matched = append(matched, f)
			}
		}
	}

	sort.Strings(matched)
	if maxFiles > 0 && len(matched) > maxFiles {
		matched = matched[:maxFiles]
	}

	var sb strings.Builder
	for i, relPath := range matched {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("# FILE: ")
		sb.WriteString(relPath)
		sb.WriteString("\n")

		data, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(relPath)))
		if err != nil {
			return nil, fmt.Errorf("contextpack: read %q: %w", relPath, err)
		}
		sb.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			sb.WriteString("\n")
		}
	}

	content := sb.String()
	return &GlobResult{
		Content:     content,
		ContentHash: "sha256:" + canonicalize.HashBytes([]byte(content)),
		Files:       matched,
	}, nil
}

// walkMatching walks sel.Root (resolved against repoRoot) and returns
// every matching file as a repo-relative slash path. A missing root
// selects nothing.
func walkMatching(repoRoot string, sel Selector) ([]string, error) {
	root := resolveRoot(repoRoot, sel.Root)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	var out []string

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if len(sel.IncludeGlobs) > 0 && !matchesAny(rel, sel.IncludeGlobs) {
			return nil
		}
		if matchesAny(rel, sel.ExcludeGlobs) {
			return nil
		}

		repoRel, err := filepath.Rel(repoRoot, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(repoRel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// resolveRoot turns a selector/retrieval root into the walkable
// filesystem path: "" and "." mean repoRoot itself, a relative root is
// joined onto repoRoot, an absolute root is used as given.
func resolveRoot(repoRoot, root string) string {
	if root == "" || root == "." {
		return repoRoot
	}
	if filepath.IsAbs(root) {
		return root
	}
	return filepath.Join(repoRoot, root)
}

// relativizeRoot records a root the way it participates in the hashed
// snapshot: repo-relative POSIX, never an absolute machine path.
func relativizeRoot(repoRoot, root string) string {
	if root == "" || root == "." {
		return "."
	}
	if filepath.IsAbs(root) {
		if rel, err := filepath.Rel(repoRoot, root); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(filepath.Clean(root))
}

func matchesAny(relPath string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, relPath); ok {
			return true
		}
		// Also match against the base name, so "*.go"-style patterns
		// work regardless of directory depth.
		if ok, _ := filepath.Match(g, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}
