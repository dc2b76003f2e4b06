// Package brief loads and validates the YAML job brief submitted with a
// run: the governance spec describing what to produce.
package brief

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/contextpack"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/optionspec"
)

// InvalidError indicates the brief failed structural or option validation.
// Fatal at submission; no temp dir is created.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "brief invalid: " + e.Reason }

func (e *InvalidError) Kind() string { return "BriefInvalid" }

// ChainInputs describes a chainable stage's reference to a prior run.
type ChainInputs struct {
	PriorRunID      string   `yaml:"prior_run_id" json:"prior_run_id"`
	PriorStage      string   `yaml:"prior_stage" json:"prior_stage"`
	RequiredOutputs []string `yaml:"required_outputs" json:"required_outputs"`
}

// ContextSpec is the brief's optional context-retrieval control:
// the strategy is selected by the brief, either
// "glob" (ordered file concatenation) or "retrieve" (deterministic
// BM25 keyword retrieval). Fields not used by the selected strategy
// are ignored.
type ContextSpec struct {
	Strategy string `yaml:"strategy" json:"strategy"`

	// glob strategy.
	Selectors []contextpack.Selector `yaml:"selectors,omitempty" json:"selectors,omitempty"`

	// retrieve strategy.
	Query        string   `yaml:"query,omitempty" json:"query,omitempty"`
	TopK         int      `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	Roots        []string `yaml:"roots,omitempty" json:"roots,omitempty"`
	IncludeGlobs []string `yaml:"include_globs,omitempty" json:"include_globs,omitempty"`
	ExcludeGlobs []string `yaml:"exclude_globs,omitempty" json:"exclude_globs,omitempty"`
	MaxFiles     int      `yaml:"max_files,omitempty" json:"max_files,omitempty"`
}

// Brief is the governance spec supplied by the caller.
type Brief struct {
	JobID       string                 `yaml:"job_id" json:"job_id"`
	JobType     string                 `yaml:"job_type" json:"job_type"`
	Brand       string                 `yaml:"brand" json:"brand"`
	Params      map[string]interface{} `yaml:"params" json:"params,omitempty"`
	ContextSpec *ContextSpec           `yaml:"context_spec,omitempty" json:"context_spec,omitempty"`
	ChainInputs *ChainInputs           `yaml:"chain_inputs,omitempty" json:"chain_inputs,omitempty"`

	// Carried as passthrough, recorded in the stored manifest form,
	// never hashed into inputs_hash (which is defined solely over
	// snapshot file hashes).
	BriefHash  string `yaml:"brief_hash,omitempty" json:"brief_hash,omitempty"`
	RepoCommit string `yaml:"repo_commit,omitempty" json:"repo_commit,omitempty"`
}

// Load reads and parses a YAML brief from path, validating job_id
// presence and job_type membership in knownJobTypes.
func Load(path string, knownJobTypes map[string]bool) (*Brief, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	var b Brief
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, &InvalidError{Reason: fmt.Sprintf("parse YAML %s: %v", path, err)}
	}

	if err := Validate(&b, knownJobTypes); err != nil {
		return nil, err
	}

	return &b, nil
}

// Validate checks the structural invariants of a parsed brief.
func Validate(b *Brief, knownJobTypes map[string]bool) error {
	if strings.TrimSpace(b.JobID) == "" {
		return &InvalidError{Reason: "job_id is required"}
	}
	if knownJobTypes != nil && !knownJobTypes[b.JobType] {
		return &InvalidError{Reason: fmt.Sprintf("unknown job_type: %q", b.JobType)}
	}
	if b.ContextSpec != nil {
		switch b.ContextSpec.Strategy {
		case "glob", "retrieve":
		default:
			return &InvalidError{Reason: fmt.Sprintf("context_spec.strategy must be %q or %q, got %q", "glob", "retrieve", b.ContextSpec.Strategy)}
		}
		if b.ContextSpec.Strategy == "retrieve" && strings.TrimSpace(b.ContextSpec.Query) == "" {
			return &InvalidError{Reason: "context_spec.query is required for strategy \"retrieve\""}
		}
	}
	return nil
}

// ValidateOptions validates b.Params against the closed option schema for
// its job type, rejecting unknown keys rather than silently dropping them.
func ValidateOptions(b *Brief, schema *optionspec.Schema) (*optionspec.ValidationResult, error) {
	result, err := optionspec.ValidateAndCanonicalize(schema, b.Params)
	if err != nil {
		var optErr *optionspec.Error
		if errors.As(err, &optErr) {
			return nil, &InvalidError{Reason: optErr.Error()}
		}
		return nil, err
	}
	return result, nil
}
