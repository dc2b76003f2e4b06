// Package manifest defines the run manifest record, its stored and
// deterministic-projection serializations, and schema structural
// validation.
package manifest

import (
	"encoding/json"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// CurrentSchemaVersion is the schema version new manifests are written at.
const CurrentSchemaVersion = "1.2.0"

// SnapshotEntry records one input snapshot's identity within the manifest.
type SnapshotEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// ArtifactEntry records one output artifact's identity within the manifest.
type ArtifactEntry struct {
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// DoctrineSummary is the manifest's recorded view of a resolved doctrine
// reference. ResolvedAt is intentionally omitted from the stored form
// so a volatile timestamp can never leak into a supposedly
// deterministic record.
type DoctrineSummary struct {
	DoctrineID   string `json:"doctrine_id"`
	Version      string `json:"version"`
	SHA256       string `json:"sha256"`
	ResolvedPath string `json:"resolved_path,omitempty"`
}

// PriorStage is one edge in the downstream manifest's chain_metadata,
// pointing at an upstream run this one consumed.
type PriorStage struct {
	RunID             string   `json:"run_id"`
	JobID             string   `json:"job_id"`
	Stage             string   `json:"stage"`
	OutputReferences  []string `json:"output_references"`
}

// ChainMetadata describes whether this run is a downstream chain stage.
type ChainMetadata struct {
	IsChainableStage bool         `json:"is_chainable_stage"`
	PriorStages      []PriorStage `json:"prior_stages"`
}

// RunError captures a body failure for persistence into a failed manifest.
type RunError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MigrationRecord is one entry in migration_history, appended by the
// migration engine (C9). Never rewritten once appended.
type MigrationRecord struct {
	From            string   `json:"from"`
	To              string   `json:"to"`
	AppliedAt       string   `json:"applied_at"`
	Changes         []string `json:"changes"`
	ChecksumBefore  string   `json:"checksum_before"`
	ChecksumAfter   string   `json:"checksum_after"`
}

// Manifest is the stored form of a run manifest: every field, including
// the volatile ones excluded from the deterministic projection.
type Manifest struct {
	SchemaVersion string                   `json:"schema_version"`
	JobID         string                   `json:"job_id"`
	RunID         string                   `json:"run_id"`
	QueueJobID    string                   `json:"queue_job_id,omitempty"`
	JobRef        string                   `json:"job_ref"`
	JobType       string                   `json:"job_type"`
	Status        Status                   `json:"status"`
	InputsHash    *string                  `json:"inputs_hash"`
	InputSnapshots map[string]SnapshotEntry `json:"input_snapshots"`
	Doctrine      *DoctrineSummary         `json:"doctrine,omitempty"`
	Artifacts     map[string]ArtifactEntry `json:"artifacts"`
	ChainMetadata ChainMetadata            `json:"chain_metadata"`
	Error         *RunError                `json:"error,omitempty"`
	MigrationHistory []MigrationRecord     `json:"migration_history,omitempty"`

	// Volatile: recorded but excluded from the deterministic projection.
	StartedAt       string `json:"started_at,omitempty"`
	FinishedAt      string `json:"finished_at,omitempty"`
	LangfuseTraceID string `json:"langfuse_trace_id,omitempty"`
}

// deterministicView is the subset of Manifest serialized into the
// deterministic projection: everything except the volatile fields.
type deterministicView struct {
	SchemaVersion    string                   `json:"schema_version"`
	JobID            string                   `json:"job_id"`
	RunID            string                   `json:"run_id"`
	JobRef           string                   `json:"job_ref"`
	JobType          string                   `json:"job_type"`
	Status           Status                   `json:"status"`
	InputsHash       *string                  `json:"inputs_hash"`
	InputSnapshots   map[string]SnapshotEntry `json:"input_snapshots"`
	Doctrine         *DoctrineSummary         `json:"doctrine,omitempty"`
	Artifacts        map[string]ArtifactEntry `json:"artifacts"`
	ChainMetadata    ChainMetadata            `json:"chain_metadata"`
	Error            *RunError                `json:"error,omitempty"`
	MigrationHistory []MigrationRecord        `json:"migration_history,omitempty"`
}

// MarshalStored returns the full stored-form serialization (2-space
// indented canonical JSON, including volatile fields).
func (m *Manifest) MarshalStored() ([]byte, error) {
	return canonicalize.MarshalIndented(m)
}

// DeterministicProjection returns the manifest with volatile fields
// stripped, for byte-equality comparisons across runs sharing inputs_hash.
func (m *Manifest) DeterministicProjection() ([]byte, error) {
	view := deterministicView{
		SchemaVersion:    m.SchemaVersion,
		JobID:            m.JobID,
		RunID:            m.RunID,
		JobRef:           m.JobRef,
		JobType:          m.JobType,
		Status:           m.Status,
		InputsHash:       m.InputsHash,
		InputSnapshots:   m.InputSnapshots,
		Doctrine:         m.Doctrine,
		Artifacts:        m.Artifacts,
		ChainMetadata:    m.ChainMetadata,
		Error:            m.Error,
		MigrationHistory: m.MigrationHistory,
	}
	return canonicalize.MarshalIndented(view)
}

// Parse decodes a stored-form manifest from bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
