package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/config"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/reindex"
)

func runReindexCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reindex", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	driver := reindex.Driver(cfg.IndexDriver)
	dsn := cfg.IndexDSN
	if dsn == "" {
		dsn = reindex.DefaultDSN(cfg.RepoRoot)
	}

	idx, err := reindex.Open(driver, dsn)
	if err != nil {
		fmt.Fprintf(stderr, "reindex: open index: %v\n", err)
		return 1
	}
	defer idx.Close()

	summary, err := reindex.Rebuild(context.Background(), idx, filepath.Join(cfg.RepoRoot, "artifacts"), time.Now)
	if err != nil {
		fmt.Fprintf(stderr, "reindex: rebuild: %v\n", err)
		return 1
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Fprintln(stdout, string(out))
	} else {
		fmt.Fprintf(stdout, "scanned: %d\n", summary.Scanned)
		fmt.Fprintf(stdout, "indexed: %d\n", summary.Indexed)
		fmt.Fprintf(stdout, "findings: %d\n", len(summary.Findings))
		for _, f := range summary.Findings {
			fmt.Fprintf(stdout, "  [%s/%s] %s: %s\n", f.JobID, f.RunID, f.Check, f.Message)
		}
	}
	return 0
}
