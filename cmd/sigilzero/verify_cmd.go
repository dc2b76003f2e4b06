package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/config"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/reindex"
)

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	findings, err := reindex.Verify(filepath.Join(cfg.RepoRoot, "artifacts"))
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(findings, "", "  ")
		fmt.Fprintln(stdout, string(out))
	} else if len(findings) == 0 {
		fmt.Fprintln(stdout, "OK: no integrity findings")
	} else {
		for _, f := range findings {
			fmt.Fprintf(stdout, "[%s/%s] %s: %s\n", f.JobID, f.RunID, f.Check, f.Message)
		}
	}

	if len(findings) > 0 {
		return 1
	}
	return 0
}
