package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/config"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/migration"
)

func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manifestPath string
		target       string
		all          bool
		jsonOutput   bool
		dryRun       bool
	)
	cmd.StringVar(&manifestPath, "manifest", "", "Path to a single manifest.json to migrate")
	cmd.StringVar(&target, "target", "", "Target schema_version (default: latest registered)")
	cmd.BoolVar(&all, "all", false, "Migrate every manifest.json under the repo's artifacts/ tree")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	cmd.BoolVar(&dryRun, "dry-run", false, "Compute the target record and diff without writing backup or manifest")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifestPath == "" && !all {
		fmt.Fprintln(stderr, "Error: one of --manifest or --all is required")
		cmd.Usage()
		return 2
	}

	eng := migration.NewEngine(func() string { return time.Now().UTC().Format(time.RFC3339) })

	if all {
		cfg := config.Load()
		artifactsRoot := filepath.Join(cfg.RepoRoot, "artifacts")

		if dryRun {
			plans, err := eng.PlanTree(artifactsRoot, target)
			if err != nil {
				fmt.Fprintf(stderr, "migrate --all --dry-run failed: %v\n", err)
				return 1
			}
			printPlans(stdout, plans, jsonOutput)
			return 0
		}

		summary, err := eng.MigrateTree(artifactsRoot, target)
		if err != nil {
			fmt.Fprintf(stderr, "migrate --all failed: %v\n", err)
			return 1
		}
		if jsonOutput {
			out, _ := json.MarshalIndent(summary, "", "  ")
			fmt.Fprintln(stdout, string(out))
		} else {
			fmt.Fprintf(stdout, "total:           %d\n", summary.Total)
			fmt.Fprintf(stdout, "migrated:        %d\n", summary.Migrated)
			fmt.Fprintf(stdout, "already_current: %d\n", summary.AlreadyCurrent)
			fmt.Fprintf(stdout, "failed:          %d\n", summary.Failed)
			for _, e := range summary.Errors {
				fmt.Fprintf(stdout, "  error: %s\n", e)
			}
		}
		if summary.Failed > 0 {
			return 1
		}
		return 0
	}

	if dryRun {
		plan, err := eng.PlanMigration(manifestPath, target)
		if err != nil {
			fmt.Fprintf(stderr, "migrate --dry-run failed: %v\n", err)
			return 1
		}
		printPlans(stdout, []*migration.Plan{plan}, jsonOutput)
		return 0
	}

	details, err := eng.MigrateManifest(manifestPath, target)
	if err != nil {
		fmt.Fprintf(stderr, "migrate failed: %v\n", err)
		return 1
	}
	if jsonOutput {
		out, _ := json.MarshalIndent(details, "", "  ")
		fmt.Fprintln(stdout, string(out))
	} else if details.AlreadyCurrent {
		fmt.Fprintf(stdout, "%s already at %s\n", manifestPath, details.CurrentVersion)
	} else {
		fmt.Fprintf(stdout, "%s: %s -> %s (%d migrations applied)\n",
			manifestPath, details.CurrentVersion, details.TargetVersion, len(details.MigrationsApplied))
	}
	return 0
}

// printPlans renders one or more dry-run plans, either as JSON (the
// full target record and diff) or a human-readable summary per plan.
func printPlans(stdout io.Writer, plans []*migration.Plan, jsonOutput bool) {
	if jsonOutput {
		out, _ := json.MarshalIndent(plans, "", "  ")
		fmt.Fprintln(stdout, string(out))
		return
	}
	for _, plan := range plans {
		if plan.AlreadyCurrent {
			fmt.Fprintf(stdout, "%s already at %s (dry-run)\n", plan.Path, plan.CurrentVersion)
			continue
		}
		fmt.Fprintf(stdout, "%s: %s -> %s (dry-run, %d migrations would apply)\n",
			plan.Path, plan.CurrentVersion, plan.TargetVersion, len(plan.MigrationsApplied))
		for _, c := range plan.Changes {
			fmt.Fprintf(stdout, "  change: %s\n", c)
		}
	}
}
