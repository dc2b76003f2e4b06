// Package snapshot materializes named input payloads as canonical JSON
// files under a run's inputs/ directory.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// IOError wraps a failure to write a snapshot. Callers must treat the
// temp directory as poisoned once this is returned.
type IOError struct {
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("snapshot: write %q failed: %v", e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Kind() string { return "SnapshotIOError" }

// File describes one written snapshot: its repo-relative path, the
// SHA-256 of its bytes, and its size.
type File struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// Writer writes named payloads as inputs/<name>.resolved.json inside a
// caller-supplied temp directory. Write order across names is irrelevant;
// only the resulting files matter.
type Writer struct {
	tempDir string
}

// NewWriter returns a Writer rooted at tempDir. tempDir must already exist.
func NewWriter(tempDir string) *Writer {
	return &Writer{tempDir: tempDir}
}

// InputsDir returns the inputs/ directory beneath the temp dir.
func (w *Writer) InputsDir() string {
	return filepath.Join(w.tempDir, "inputs")
}

// Write canonicalizes payload and writes it to inputs/<name>.resolved.json
// (inputs/model_config.json for the model_config snapshot, which carries
// configuration rather than a resolved external input).
// Returns the File descriptor for the written snapshot.
func (w *Writer) Write(name string, payload interface{}) (*File, error) {
	inputsDir := w.InputsDir()
	if err := os.MkdirAll(inputsDir, 0o755); err != nil {
		return nil, &IOError{Name: name, Err: err}
	}

	data, err := canonicalize.MarshalIndented(payload)
	if err != nil {
		return nil, &IOError{Name: name, Err: err}
	}

	fileName := name + ".resolved.json"
	if name == "model_config" {
		fileName = name + ".json"
	}
	relPath := filepath.Join("inputs", fileName)
	fullPath := filepath.Join(w.tempDir, relPath)

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, &IOError{Name: name, Err: err}
	}

	return &File{
		Path:   filepath.ToSlash(relPath),
		SHA256: "sha256:" + canonicalize.HashBytes(data),
		Bytes:  int64(len(data)),
	}, nil
}

// WriteAll writes every entry in payloads, in map iteration order (the
// order is irrelevant per the write contract). Returns a map from name
// to its written File descriptor, or the first error encountered.
func (w *Writer) WriteAll(payloads map[string]interface{}) (map[string]*File, error) {
	out := make(map[string]*File, len(payloads))
	for name, payload := range payloads {
		f, err := w.Write(name, payload)
		if err != nil {
			return nil, err
		}
		out[name] = f
	}
	return out, nil
}
