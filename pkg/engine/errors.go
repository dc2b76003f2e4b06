package engine

import "fmt"

// BodyFailureError wraps a job body's failure (LLM error, parse error,
// output write error). Captured into manifest.error; the run still
// finalizes to status=failed and the directory is still promoted.
type BodyFailureError struct {
	Err error
}

func (e *BodyFailureError) Error() string { return fmt.Sprintf("body failed: %v", e.Err) }

func (e *BodyFailureError) Unwrap() error { return e.Err }

func (e *BodyFailureError) Kind() string { return "BodyFailure" }

// FinalizeFailureError reports that the temp directory could not be
// promoted to its canonical location (rename failure, or a symlink
// target already occupied by something other than the run it should
// point at). The temp dir is removed; the run leaves no on-disk artifact.
type FinalizeFailureError struct {
	Reason string
}

func (e *FinalizeFailureError) Error() string { return "finalize failed: " + e.Reason }

func (e *FinalizeFailureError) Kind() string { return "FinalizeFailure" }

// CollisionLimitExceededError reports that the deterministic suffix
// space (bounded at 1000) was exhausted while resolving a run_id
// collision, which indicates filesystem corruption or an adversarial
// directory layout rather than a legitimate hash collision.
type CollisionLimitExceededError struct {
	RunIDBase string
}

func (e *CollisionLimitExceededError) Error() string {
	return fmt.Sprintf("collision limit exceeded for run_id_base %s", e.RunIDBase)
}

func (e *CollisionLimitExceededError) Kind() string { return "CollisionLimitExceeded" }

// maxCollisionSuffix bounds the C6 suffix search (run_id_base-2 .. -1000).
const maxCollisionSuffix = 1000
