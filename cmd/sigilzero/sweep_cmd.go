package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/config"
)

// runSweepCmd removes orphaned .tmp/tmp-* staging directories left
// behind by a crashed or killed run (a crash never corrupts a promoted
// run, but it can leave an unreferenced staging directory under
// artifacts/<job_id>/.tmp/ that nothing will ever clean up on its own).
func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		olderThanHours float64
		dryRun         bool
	)
	cmd.Float64Var(&olderThanHours, "older-than-hours", 24, "Remove .tmp staging dirs older than this many hours")
	cmd.BoolVar(&dryRun, "dry-run", false, "List candidates without removing them")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	artifactsRoot := filepath.Join(cfg.RepoRoot, "artifacts")
	cutoff := time.Now().Add(-time.Duration(olderThanHours * float64(time.Hour)))

	entries, err := os.ReadDir(artifactsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(stdout, "swept: 0 (artifacts root does not exist)")
			return 0
		}
		fmt.Fprintf(stderr, "sweep: read artifacts root: %v\n", err)
		return 1
	}

	swept := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "runs" {
			continue
		}
		tmpRoot := filepath.Join(artifactsRoot, e.Name(), ".tmp")
		staged, err := os.ReadDir(tmpRoot)
		if err != nil {
			continue
		}
		for _, s := range staged {
			if !s.IsDir() || !strings.HasPrefix(s.Name(), "tmp-") {
				continue
			}
			stagedPath := filepath.Join(tmpRoot, s.Name())
			info, err := s.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if dryRun {
				fmt.Fprintf(stdout, "would remove: %s\n", stagedPath)
				continue
			}
			if err := os.RemoveAll(stagedPath); err != nil {
				fmt.Fprintf(stderr, "sweep: remove %s: %v\n", stagedPath, err)
				continue
			}
			fmt.Fprintf(stdout, "removed: %s\n", stagedPath)
			swept++
		}
	}

	if !dryRun {
		fmt.Fprintf(stdout, "swept: %d\n", swept)
	}
	return 0
}
