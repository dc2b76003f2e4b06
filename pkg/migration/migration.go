// Package migration carries manifests forward across schema_version
// changes: additive, filesystem-first, auditable transformations applied
// in place to manifest.json.
package migration

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// Error reports a migration that could not be completed. The manifest on
// disk is left untouched when this is returned.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration failed for %s: %s", e.Path, e.Reason)
}

func (e *Error) Kind() string { return "MigrationFailure" }

// Transform mutates a decoded manifest in place, returning the updated
// document. It must be pure: no I/O, no side effects beyond the map.
type Transform func(doc map[string]interface{}) map[string]interface{}

// Step is one registered edge in the migration graph.
type Step struct {
	From    string
	To      string
	Changes []string
	Apply   Transform
}

// Record is one entry appended to migration_history on a migrated
// manifest, matching manifest.MigrationRecord's field set.
type Record struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	AppliedAt      string   `json:"applied_at"`
	Changes        []string `json:"changes"`
	ChecksumBefore string   `json:"checksum_before"`
	ChecksumAfter  string   `json:"checksum_after"`
}

// Registry holds the known migration edges and finds paths between
// schema versions.
type Registry struct {
	edges map[string]*Step // keyed by "from|to"
	from  map[string][]*Step
}

// NewRegistry returns a registry pre-loaded with the built-in migrations:
// 1.0.0->1.1.0 (adds input_snapshots/inputs_hash), 1.1.0->1.2.0 (adds
// chain_metadata), and the direct 1.0.0->1.2.0 composite.
func NewRegistry() *Registry {
	r := &Registry{edges: make(map[string]*Step), from: make(map[string][]*Step)}
	r.Register(&Step{
		From: "1.0.0", To: "1.1.0",
		Changes: []string{
			"Add input_snapshots field (empty object)",
			"Add inputs_hash field (null)",
		},
		Apply: func(doc map[string]interface{}) map[string]interface{} {
			doc["input_snapshots"] = map[string]interface{}{}
			doc["inputs_hash"] = nil
			doc["schema_version"] = "1.1.0"
			return doc
		},
	})
	r.Register(&Step{
		From: "1.1.0", To: "1.2.0",
		Changes: []string{
			"Add chain_metadata.is_chainable_stage (false)",
			"Add chain_metadata.prior_stages ([])",
		},
		Apply: func(doc map[string]interface{}) map[string]interface{} {
			doc["chain_metadata"] = map[string]interface{}{
				"is_chainable_stage": false,
				"prior_stages":       []interface{}{},
			}
			doc["schema_version"] = "1.2.0"
			return doc
		},
	})
	r.Register(&Step{
		From: "1.0.0", To: "1.2.0",
		Changes: []string{
			"Add input_snapshots field (empty object)",
			"Add inputs_hash field (null)",
			"Add chain_metadata.is_chainable_stage (false)",
			"Add chain_metadata.prior_stages ([])",
		},
		Apply: func(doc map[string]interface{}) map[string]interface{} {
			doc["input_snapshots"] = map[string]interface{}{}
			doc["inputs_hash"] = nil
			doc["chain_metadata"] = map[string]interface{}{
				"is_chainable_stage": false,
				"prior_stages":       []interface{}{},
			}
			doc["schema_version"] = "1.2.0"
			return doc
		},
	})
	return r
}

// Register adds a migration edge, overwriting any existing edge with the
// same from/to pair.
func (r *Registry) Register(s *Step) {
	key := s.From + "|" + s.To
	r.edges[key] = s
	r.from[s.From] = append(r.from[s.From], s)
}

// Direct returns the registered direct edge from->to, if any.
func (r *Registry) Direct(from, to string) *Step {
	return r.edges[from+"|"+to]
}

// FindPath returns the sequence of steps to carry from to to, preferring
// a single direct edge over a multi-hop path. It runs a breadth-first
// search over registered edges when no direct edge exists, so the
// shortest chain of additive migrations is always chosen.
func (r *Registry) FindPath(from, to string) ([]*Step, error) {
	if from == to {
		return nil, nil
	}
	if direct := r.Direct(from, to); direct != nil {
		return []*Step{direct}, nil
	}

	type node struct {
		version string
		path    []*Step
	}
	visited := map[string]bool{from: true}
	queue := []node{{version: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		// Deterministic ordering: children visited in sorted target-version order.
		children := append([]*Step(nil), r.from[cur.version]...)
		sort.Slice(children, func(i, j int) bool { return children[i].To < children[j].To })

		for _, step := range children {
			if visited[step.To] {
				continue
			}
			newPath := append(append([]*Step(nil), cur.path...), step)
			if step.To == to {
				return newPath, nil
			}
			visited[step.To] = true
			queue = append(queue, node{version: step.To, path: newPath})
		}
	}
	return nil, fmt.Errorf("no migration path from %s to %s", from, to)
}

// LatestVersion returns the highest schema version named by any
// registered edge.
func (r *Registry) LatestVersion() string {
	best := "1.0.0"
	bestV := semver.MustParse(best)
	seen := map[string]bool{best: true}
	for key := range r.edges {
		s := r.edges[key]
		for _, v := range []string{s.From, s.To} {
			if seen[v] {
				continue
			}
			seen[v] = true
			parsed, err := semver.NewVersion(v)
			if err != nil {
				continue
			}
			if parsed.GreaterThan(bestV) {
				bestV = parsed
				best = v
			}
		}
	}
	return best
}

// Engine applies registered migrations to manifest files on disk.
type Engine struct {
	registry *Registry
	nowISO8601 func() string
}

// NewEngine returns an Engine backed by the built-in registry. nowFn
// supplies the applied_at timestamp (injected so tests are deterministic).
func NewEngine(nowFn func() string) *Engine {
	return &Engine{registry: NewRegistry(), nowISO8601: nowFn}
}

// Details reports the outcome of migrating a single manifest.
type Details struct {
	Path             string
	CurrentVersion   string
	TargetVersion    string
	MigrationsApplied []string
	AlreadyCurrent   bool
	BackupPath       string
}

// Plan is the computed outcome of carrying a manifest from its current
// schema_version to target, without touching disk: the target record
// and a field-level diff against the record as loaded.
type Plan struct {
	Path              string
	CurrentVersion    string
	TargetVersion     string
	AlreadyCurrent    bool
	MigrationsApplied []string
	Changes           []string
	Before            map[string]interface{}
	After             map[string]interface{}
	ChecksumBefore    string
	ChecksumAfter     string
}

// migrationPlan is the shared computation behind both MigrateManifest and
// PlanMigration: load, find path, apply transforms in memory. Neither
// backup nor commit happens here.
func (e *Engine) migrationPlan(manifestPath string, target string) (raw []byte, before, after map[string]interface{}, current, resolvedTarget string, steps []*Step, changes []string, checksumBefore, checksumAfter string, err error) {
	raw, err = os.ReadFile(manifestPath)
	if err != nil {
		err = &Error{Path: manifestPath, Reason: fmt.Sprintf("read: %v", err)}
		return
	}

	if err = json.Unmarshal(raw, &before); err != nil {
		err = &Error{Path: manifestPath, Reason: fmt.Sprintf("parse: %v", err)}
		return
	}

	current, _ = before["schema_version"].(string)
	if current == "" {
		current = "1.0.0"
	}
	resolvedTarget = target
	if resolvedTarget == "" {
		resolvedTarget = e.registry.LatestVersion()
	}

	// Re-parse into a second map so before is left untouched by the
	// in-place transforms applied to after.
	if err = json.Unmarshal(raw, &after); err != nil {
		err = &Error{Path: manifestPath, Reason: fmt.Sprintf("parse: %v", err)}
		return
	}

	if current == resolvedTarget {
		return
	}

	steps, err = e.registry.FindPath(current, resolvedTarget)
	if err != nil {
		err = &Error{Path: manifestPath, Reason: err.Error()}
		return
	}

	checksumBefore, err = canonicalize.CanonicalHash(after)
	if err != nil {
		err = &Error{Path: manifestPath, Reason: fmt.Sprintf("checksum: %v", err)}
		return
	}

	for _, step := range steps {
		if v, _ := after["schema_version"].(string); v != step.From {
			err = &Error{Path: manifestPath, Reason: fmt.Sprintf("expected schema_version %s, got %v", step.From, after["schema_version"])}
			return
		}
		after = step.Apply(after)
		if v, _ := after["schema_version"].(string); v != step.To {
			err = &Error{Path: manifestPath, Reason: fmt.Sprintf("migration to %s did not set schema_version", step.To)}
			return
		}
		changes = append(changes, step.Changes...)
	}

	checksumAfter, err = canonicalize.CanonicalHash(after)
	if err != nil {
		err = &Error{Path: manifestPath, Reason: fmt.Sprintf("checksum: %v", err)}
		return
	}

	return
}

// PlanMigration computes the target record and diff for carrying
// manifestPath forward to target without writing the backup or the
// migrated manifest.
func (e *Engine) PlanMigration(manifestPath string, target string) (*Plan, error) {
	_, before, after, current, resolvedTarget, steps, changes, checksumBefore, checksumAfter, err := e.migrationPlan(manifestPath, target)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Path:           manifestPath,
		CurrentVersion: current,
		TargetVersion:  resolvedTarget,
		Before:         before,
		ChecksumBefore: checksumBefore,
		ChecksumAfter:  checksumAfter,
	}

	if current == resolvedTarget {
		plan.AlreadyCurrent = true
		plan.After = before
		return plan, nil
	}

	for _, step := range steps {
		plan.MigrationsApplied = append(plan.MigrationsApplied, step.From+" -> "+step.To)
	}
	plan.Changes = changes
	plan.After = after
	return plan, nil
}

// MigrateManifest carries manifestPath forward to target (the registry's
// latest version if target is empty). The manifest is loaded as raw JSON
// so fields unknown to the current schema (forward-compat fields from a
// newer writer) pass through untouched; a backup is written before the
// migrated document replaces the original, and the write itself is
// atomic (temp file, then rename).
func (e *Engine) MigrateManifest(manifestPath string, target string) (*Details, error) {
	raw, _, doc, current, resolvedTarget, steps, changes, checksumBefore, checksumAfter, err := e.migrationPlan(manifestPath, target)
	if err != nil {
		return nil, err
	}

	details := &Details{Path: manifestPath, CurrentVersion: current, TargetVersion: resolvedTarget}

	if current == resolvedTarget {
		details.AlreadyCurrent = true
		return details, nil
	}

	for _, step := range steps {
		details.MigrationsApplied = append(details.MigrationsApplied, step.From+" -> "+step.To)
	}

	history, _ := doc["migration_history"].([]interface{})
	history = append(history, map[string]interface{}{
		"from":            current,
		"to":              resolvedTarget,
		"applied_at":      e.nowISO8601(),
		"changes":         changes,
		"checksum_before": checksumBefore,
		"checksum_after":  checksumAfter,
	})
	doc["migration_history"] = history

	backupPath := manifestPath + ".backup"
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		return nil, &Error{Path: manifestPath, Reason: fmt.Sprintf("backup write: %v", err)}
	}
	details.BackupPath = backupPath

	out, err := canonicalize.MarshalIndented(doc)
	if err != nil {
		return nil, &Error{Path: manifestPath, Reason: fmt.Sprintf("marshal: %v", err)}
	}

	tmpPath := manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0o644); err != nil {
		return nil, &Error{Path: manifestPath, Reason: fmt.Sprintf("write temp: %v", err)}
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		return nil, &Error{Path: manifestPath, Reason: fmt.Sprintf("commit: %v", err)}
	}

	return details, nil
}

// TreeSummary tallies the outcome of migrating every manifest.json under
// a directory tree.
type TreeSummary struct {
	Total          int
	Migrated       int
	AlreadyCurrent int
	Failed         int
	Errors         []string
}

// MigrateTree walks root for manifest.json files and migrates each to
// target, continuing past individual failures so one malformed manifest
// does not abort the sweep.
func (e *Engine) MigrateTree(root string, target string) (*TreeSummary, error) {
	paths, err := findManifests(root)
	if err != nil {
		return nil, err
	}

	summary := &TreeSummary{Total: len(paths)}
	for _, p := range paths {
		details, err := e.MigrateManifest(p, target)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		if details.AlreadyCurrent {
			summary.AlreadyCurrent++
		} else {
			summary.Migrated++
		}
	}
	return summary, nil
}

// PlanTree computes, without touching disk, the migration plan for
// every manifest.json under root. Mirrors MigrateTree's walk but calls
// PlanMigration instead of MigrateManifest, so a full-tree --dry-run
// carries the same no-disk-writes guarantee as a single-manifest one.
func (e *Engine) PlanTree(root string, target string) ([]*Plan, error) {
	paths, err := findManifests(root)
	if err != nil {
		return nil, err
	}

	plans := make([]*Plan, 0, len(paths))
	for _, p := range paths {
		plan, err := e.PlanMigration(p, target)
		if err != nil {
			plans = append(plans, &Plan{Path: p, CurrentVersion: "", TargetVersion: target, Changes: []string{"error: " + err.Error()}})
			continue
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// findManifests walks root collecting every manifest.json path.
func findManifests(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "manifest.json" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migration: walk %s: %w", root, err)
	}
	return paths, nil
}
