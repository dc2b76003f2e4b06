package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter_Write_ProducesCanonicalFile(t *testing.T) {
	tmp := t.TempDir()
	w := NewWriter(tmp)

	f, err := w.Write("brief", map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	require.Equal(t, "inputs/brief.resolved.json", f.Path)

	data, err := os.ReadFile(filepath.Join(tmp, "inputs", "brief.resolved.json"))
	require.NoError(t, err)
	require.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}\n", string(data))

	var roundTrip map[string]int
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	require.Equal(t, 1, roundTrip["a"])
}

func TestWriter_Write_HashMatchesFileBytes(t *testing.T) {
	tmp := t.TempDir()
	w := NewWriter(tmp)

	f, err := w.Write("model_config", map[string]string{"provider": "test"})
	require.NoError(t, err)

	// model_config is the one snapshot written without the .resolved
	// suffix.
	require.Equal(t, "inputs/model_config.json", f.Path)

	data, err := os.ReadFile(filepath.Join(tmp, "inputs", "model_config.json"))
	require.NoError(t, err)

	require.Contains(t, f.SHA256, "sha256:")
	require.Equal(t, int64(len(data)), f.Bytes)
}

func TestWriter_WriteAll_AllNamesPresent(t *testing.T) {
	tmp := t.TempDir()
	w := NewWriter(tmp)

	files, err := w.WriteAll(map[string]interface{}{
		"brief":        map[string]string{"job_id": "x"},
		"context":      map[string]string{"strategy": "glob"},
		"model_config": map[string]string{"provider": "test"},
		"doctrine":     map[string]string{"doctrine_id": "prompts/instagram_copy"},
	})
	require.NoError(t, err)
	require.Len(t, files, 4)
	for _, name := range []string{"brief", "context", "model_config", "doctrine"} {
		_, ok := files[name]
		require.True(t, ok, "missing snapshot for %s", name)
	}
}

func TestWriter_Write_FailsOnUnwritableDir(t *testing.T) {
	w := NewWriter("/nonexistent/root/that/cannot/be/created\x00invalid")

	_, err := w.Write("brief", map[string]string{"a": "b"})
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "SnapshotIOError", ioErr.Kind())
}
