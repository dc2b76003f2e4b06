// Package engine orchestrates a single deterministic run end to end:
// brief validation, doctrine/context/chain input resolution, snapshot
// writing, inputs_hash derivation, collision resolution, job-body
// execution, and atomic finalization.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/brief"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/chain"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/doctrine"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/lock"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/manifest"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/optionspec"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/runid"
	"github.com/jasoncookdesign/sigilzero-engine/pkg/snapshot"
)

// Body executes a job's generation logic. It must write its output
// files beneath filepath.Join(workDir, "outputs") and may read the
// already-written snapshot inputs beneath filepath.Join(workDir,
// "inputs") or the raw payloads passed in inputs. Any returned error is
// captured into the manifest as a BodyFailure; the run still finalizes.
type Body func(ctx context.Context, workDir string, inputs map[string]interface{}) error

// BuildInputsFunc assembles the named snapshot payloads for a job type.
// priorSnapshot is non-nil only for a chainable job with chain_inputs.
// The doctrine Reference, when non-nil, is recorded on the manifest.
type BuildInputsFunc func(ctx context.Context, repoRoot string, br *brief.Brief, priorSnapshot *chain.Snapshot) (map[string]interface{}, *doctrine.Reference, error)

// JobDefinition is one entry in the engine's job-type registry,
// supplied by pkg/jobs.
type JobDefinition struct {
	JobType                 string
	OptionSchema            *optionspec.Schema
	Chainable               bool
	ExpectedUpstreamJobType string
	BuildInputs             BuildInputsFunc
	Body                    Body
}

// Tracer is the optional tracing sink consumed by the engine.
// Implementations must never return an error that aborts the run;
// the engine treats every call as best-effort and only logs failures.
type Tracer interface {
	RunStarted(ctx context.Context, runID, jobID string) (traceID string, err error)
	RunFinished(ctx context.Context, traceID string, status manifest.Status) error
}

// Mirror is the optional best-effort artifact mirror (S3). Failures are
// logged and never affect run status.
type Mirror interface {
	MirrorRun(ctx context.Context, runDir string) error
}

// Engine runs jobs against a single repository root.
type Engine struct {
	RepoRoot string
	Registry map[string]*JobDefinition
	Logger   *slog.Logger
	Locker   lock.Locker
	Tracer   Tracer
	Mirror   Mirror
	Clock    func() time.Time
	NewTempSuffix func() string
}

// New returns an Engine with sane defaults for any field left unset
// (a real clock, crypto/rand-derived temp suffixes, an in-process
// locker, no tracer, no mirror).
func New(repoRoot string, registry map[string]*JobDefinition, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		RepoRoot:      repoRoot,
		Registry:      registry,
		Logger:        logger,
		Locker:        lock.NewInProcess(),
		Clock:         time.Now,
		NewTempSuffix: defaultTempSuffix,
	}
}

// Result is the outcome of a Run call.
type Result struct {
	RunID            string
	JobID            string
	JobType          string
	ArtifactDir      string
	IdempotentReplay bool
	Status           manifest.Status
}

// Run loads and validates jobRef's brief, resolves its job type's
// inputs, derives its run_id, resolves collisions/idempotent replay,
// executes the job body, and finalizes the manifest atomically.
// queueJobID is recorded on the manifest but never participates in the
// deterministic derivation.
func (e *Engine) Run(ctx context.Context, jobRef string, queueJobID string) (*Result, error) {
	briefPath, err := e.resolveJobRef(jobRef)
	if err != nil {
		return nil, err
	}

	knownTypes := make(map[string]bool, len(e.Registry))
	for t := range e.Registry {
		knownTypes[t] = true
	}

	br, err := brief.Load(briefPath, knownTypes)
	if err != nil {
		return nil, err
	}

	def := e.Registry[br.JobType]
	if def == nil {
		return nil, &brief.InvalidError{Reason: fmt.Sprintf("no job definition registered for job_type %q", br.JobType)}
	}

	if def.OptionSchema != nil {
		if _, err := brief.ValidateOptions(br, def.OptionSchema); err != nil {
			return nil, err
		}
	}

	var priorSnapshot *chain.Snapshot
	if br.ChainInputs != nil {
		if !def.Chainable {
			return nil, &brief.InvalidError{Reason: fmt.Sprintf("job_type %q is not chainable", br.JobType)}
		}
		priorSnapshot, err = chain.Resolve(
			filepath.Join(e.RepoRoot, "artifacts"),
			br.ChainInputs.PriorRunID,
			br.ChainInputs.PriorStage,
			br.ChainInputs.RequiredOutputs,
			def.ExpectedUpstreamJobType,
		)
		if err != nil {
			return nil, err
		}
	} else if def.Chainable {
		return nil, &brief.InvalidError{Reason: fmt.Sprintf("job_type %q requires chain_inputs", br.JobType)}
	}

	inputs, doctrineRef, err := def.BuildInputs(ctx, e.RepoRoot, br, priorSnapshot)
	if err != nil {
		return nil, err
	}

	jobRoot := filepath.Join(e.RepoRoot, "artifacts", br.JobID)
	tmpDir := filepath.Join(jobRoot, ".tmp", "tmp-"+e.NewTempSuffix())
	if err := os.MkdirAll(filepath.Join(tmpDir, "outputs"), 0o755); err != nil {
		return nil, &snapshot.IOError{Name: "workdir", Err: err}
	}

	writer := snapshot.NewWriter(tmpDir)
	files, err := writer.WriteAll(inputs)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}

	snapshotHashes := make(map[string]string, len(files))
	snapshotEntries := make(map[string]manifest.SnapshotEntry, len(files))
	for name, f := range files {
		snapshotHashes[name] = f.SHA256
		snapshotEntries[name] = manifest.SnapshotEntry{Path: f.Path, SHA256: f.SHA256, Bytes: f.Bytes}
	}

	inputsHash, err := runid.ComputeInputsHash(snapshotHashes)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("engine: derive inputs_hash: %w", err)
	}
	runIDBase := runid.DeriveRunIDBase(inputsHash)

	resolution, err := e.resolveCollision(ctx, jobRoot, br.JobID, inputsHash, runIDBase)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}

	if resolution.idempotentReplay {
		_ = os.RemoveAll(tmpDir)
		e.Logger.Info("run_footer",
			slog.String("job_id", br.JobID),
			slog.String("run_id", resolution.runID),
			slog.String("status", "idempotent_replay"),
			slog.String("artifact_dir", resolution.resolvedDir))
		return &Result{
			RunID:            resolution.runID,
			JobID:            br.JobID,
			JobType:          br.JobType,
			ArtifactDir:      resolution.resolvedDir,
			IdempotentReplay: true,
			Status:           manifest.StatusSucceeded,
		}, nil
	}

	var traceID string
	if e.Tracer != nil {
		if id, terr := e.Tracer.RunStarted(ctx, resolution.runID, br.JobID); terr == nil {
			traceID = id
		} else {
			e.Logger.Warn("tracer run_started failed", slog.String("error", terr.Error()))
		}
	}

	e.Logger.Info("run_header",
		slog.String("job_id", br.JobID),
		slog.String("job_ref", jobRef),
		slog.String("inputs_hash", inputsHash),
		slog.String("run_id", resolution.runID),
		slog.String("queue_job_id", queueJobID))

	started := e.Clock()
	bodyErr := def.Body(ctx, tmpDir, inputs)
	finished := e.Clock()

	status := manifest.StatusSucceeded
	var runErr *manifest.RunError
	if bodyErr != nil {
		status = manifest.StatusFailed
		runErr = &manifest.RunError{Type: "BodyFailure", Message: bodyErr.Error()}
	}

	artifacts, scanErr := scanOutputs(tmpDir)
	if scanErr != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, &FinalizeFailureError{Reason: fmt.Sprintf("scan outputs: %v", scanErr)}
	}

	m := &manifest.Manifest{
		SchemaVersion:    manifest.CurrentSchemaVersion,
		JobID:            br.JobID,
		RunID:            resolution.runID,
		QueueJobID:       queueJobID,
		JobRef:           jobRef,
		JobType:          br.JobType,
		Status:           status,
		InputsHash:       &inputsHash,
		InputSnapshots:   snapshotEntries,
		Artifacts:        artifacts,
		ChainMetadata:    buildChainMetadata(def, br, priorSnapshot),
		Error:            runErr,
		StartedAt:        started.UTC().Format(time.RFC3339Nano),
		FinishedAt:       finished.UTC().Format(time.RFC3339Nano),
		LangfuseTraceID:  traceID,
	}
	if doctrineRef != nil {
		m.Doctrine = &manifest.DoctrineSummary{
			DoctrineID:   doctrineRef.DoctrineID,
			Version:      doctrineRef.Version,
			SHA256:       doctrineRef.SHA256,
			ResolvedPath: doctrineRef.ResolvedPath,
		}
	}

	stored, err := m.MarshalStored()
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, &FinalizeFailureError{Reason: fmt.Sprintf("marshal manifest: %v", err)}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "manifest.json"), stored, 0o644); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, &FinalizeFailureError{Reason: fmt.Sprintf("write manifest: %v", err)}
	}

	finalDir := filepath.Join(jobRoot, resolution.runID)
	actions, err := e.finalize(ctx, tmpDir, finalDir, br.JobID, resolution.runID)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}
	actions = append(actions, resolution.actions...)

	if e.Mirror != nil {
		if merr := e.Mirror.MirrorRun(ctx, finalDir); merr != nil {
			e.Logger.Warn("mirror dispatch failed", slog.String("run_id", resolution.runID), slog.String("error", merr.Error()))
			actions = append(actions, "mirror_failed")
		} else {
			actions = append(actions, "mirror_dispatched")
		}
	}

	if e.Tracer != nil && traceID != "" {
		if terr := e.Tracer.RunFinished(ctx, traceID, status); terr != nil {
			e.Logger.Warn("tracer run_finished failed", slog.String("error", terr.Error()))
		}
	}

	e.Logger.Info("run_footer",
		slog.String("job_id", br.JobID),
		slog.String("run_id", resolution.runID),
		slog.String("status", string(status)),
		slog.String("artifact_dir", finalDir),
		slog.Duration("elapsed", finished.Sub(started)),
		slog.Any("actions", actions))

	result := &Result{RunID: resolution.runID, JobID: br.JobID, JobType: br.JobType, ArtifactDir: finalDir, Status: status}
	if bodyErr != nil {
		return result, &BodyFailureError{Err: bodyErr}
	}
	return result, nil
}

// resolveJobRef validates job_ref is a relative path under jobs/ with no
// traversal, returning its absolute filesystem path.
func (e *Engine) resolveJobRef(jobRef string) (string, error) {
	if filepath.IsAbs(jobRef) {
		return "", &brief.InvalidError{Reason: fmt.Sprintf("job_ref must be relative: %q", jobRef)}
	}
	cleaned := filepath.ToSlash(filepath.Clean(jobRef))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &brief.InvalidError{Reason: fmt.Sprintf("job_ref escapes repo root: %q", jobRef)}
	}
	if !strings.HasPrefix(cleaned, "jobs/") {
		return "", &brief.InvalidError{Reason: fmt.Sprintf("job_ref must be under jobs/: %q", jobRef)}
	}
	return filepath.Join(e.RepoRoot, cleaned), nil
}

func buildChainMetadata(def *JobDefinition, br *brief.Brief, prior *chain.Snapshot) manifest.ChainMetadata {
	cm := manifest.ChainMetadata{IsChainableStage: def.Chainable && br.ChainInputs != nil, PriorStages: []manifest.PriorStage{}}
	if prior != nil {
		cm.PriorStages = append(cm.PriorStages, manifest.PriorStage{
			RunID:            prior.PriorRunID,
			JobID:            prior.PriorJobID,
			Stage:            prior.PriorStage,
			OutputReferences: prior.RequiredOutputs,
		})
	}
	return cm
}

func scanOutputs(tmpDir string) (map[string]manifest.ArtifactEntry, error) {
	outputsDir := filepath.Join(tmpDir, "outputs")
	artifacts := make(map[string]manifest.ArtifactEntry)
	err := filepath.WalkDir(outputsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		rel, rerr := filepath.Rel(tmpDir, path)
		if rerr != nil {
			return rerr
		}
		sum := sha256.Sum256(data)
		artifacts[filepath.ToSlash(rel)] = manifest.ArtifactEntry{
			SHA256: "sha256:" + hex.EncodeToString(sum[:]),
			Bytes:  int64(len(data)),
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return artifacts, nil
}

func defaultTempSuffix() string {
	return uuid.NewString()
}
