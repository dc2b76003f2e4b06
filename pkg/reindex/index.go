// Package reindex rebuilds the secondary database index from disk and
// verifies every hash/derivation invariant a run must satisfy.
// The index is upsert-only and is never
// consulted by the run engine; its sole purpose is query convenience.
package reindex

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects the secondary-index backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Row is one upserted secondary-index record.
type Row struct {
	JobID        string
	RunID        string
	JobRef       string
	JobType      string
	Status       string
	InputsHash   string
	ArtifactDir  string
	ManifestJSON string
	IndexedAt    string
}

// Index wraps the secondary-index database, keyed by (job_id, run_id).
type Index struct {
	db     *sql.DB
	driver Driver
}

// Open opens (creating if necessary) the secondary index for the given
// driver/dsn pair. driver "sqlite" (the default) uses the pure-Go
// modernc.org/sqlite driver; "postgres" uses github.com/lib/pq.
func Open(driver Driver, dsn string) (*Index, error) {
	sqlDriverName := "sqlite"
	if driver == DriverPostgres {
		sqlDriverName = "postgres"
	}

	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("reindex: open %s: %w", driver, err)
	}

	idx := &Index{db: db, driver: driver}
	if err := idx.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// OpenWithDB wraps an already-open *sql.DB (e.g. a sqlmock connection in
// tests) without touching the DSN/driver-name resolution in Open.
func OpenWithDB(db *sql.DB, driver Driver) (*Index, error) {
	idx := &Index{db: db, driver: driver}
	if err := idx.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureSchema(ctx context.Context) error {
	_, err := i.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_index (
			job_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			job_ref TEXT,
			job_type TEXT,
			status TEXT,
			inputs_hash TEXT,
			artifact_dir TEXT,
			manifest_json TEXT,
			indexed_at TEXT,
			PRIMARY KEY (job_id, run_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("reindex: ensure schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates the secondary-index row for (r.JobID, r.RunID).
func (i *Index) Upsert(ctx context.Context, r Row) error {
	query := i.upsertQuery()
	_, err := i.db.ExecContext(ctx, query,
		r.JobID, r.RunID, r.JobRef, r.JobType, r.Status, r.InputsHash, r.ArtifactDir, r.ManifestJSON, r.IndexedAt)
	if err != nil {
		return fmt.Errorf("reindex: upsert %s/%s: %w", r.JobID, r.RunID, err)
	}
	return nil
}

func (i *Index) upsertQuery() string {
	if i.driver == DriverPostgres {
		return `
			INSERT INTO run_index (job_id, run_id, job_ref, job_type, status, inputs_hash, artifact_dir, manifest_json, indexed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (job_id, run_id) DO UPDATE SET
				job_ref = EXCLUDED.job_ref,
				job_type = EXCLUDED.job_type,
				status = EXCLUDED.status,
				inputs_hash = EXCLUDED.inputs_hash,
				artifact_dir = EXCLUDED.artifact_dir,
				manifest_json = EXCLUDED.manifest_json,
				indexed_at = EXCLUDED.indexed_at
		`
	}
	return `
		INSERT INTO run_index (job_id, run_id, job_ref, job_type, status, inputs_hash, artifact_dir, manifest_json, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, run_id) DO UPDATE SET
			job_ref = excluded.job_ref,
			job_type = excluded.job_type,
			status = excluded.status,
			inputs_hash = excluded.inputs_hash,
			artifact_dir = excluded.artifact_dir,
			manifest_json = excluded.manifest_json,
			indexed_at = excluded.indexed_at
	`
}

// Get returns the indexed row for (jobID, runID), or false if absent.
func (i *Index) Get(ctx context.Context, jobID, runID string) (Row, bool, error) {
	placeholder1, placeholder2 := "?", "?"
	if i.driver == DriverPostgres {
		placeholder1, placeholder2 = "$1", "$2"
	}
	query := fmt.Sprintf(`SELECT job_id, run_id, job_ref, job_type, status, inputs_hash, artifact_dir, manifest_json, indexed_at
		FROM run_index WHERE job_id = %s AND run_id = %s`, placeholder1, placeholder2)

	var r Row
	err := i.db.QueryRowContext(ctx, query, jobID, runID).Scan(
		&r.JobID, &r.RunID, &r.JobRef, &r.JobType, &r.Status, &r.InputsHash, &r.ArtifactDir, &r.ManifestJSON, &r.IndexedAt)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("reindex: get %s/%s: %w", jobID, runID, err)
	}
	return r, true, nil
}

// All returns every indexed row, ordered by (job_id, run_id) for
// deterministic iteration in the CLI and tests.
func (i *Index) All(ctx context.Context) ([]Row, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT job_id, run_id, job_ref, job_type, status, inputs_hash, artifact_dir, manifest_json, indexed_at
		FROM run_index ORDER BY job_id, run_id
	`)
	if err != nil {
		return nil, fmt.Errorf("reindex: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.JobID, &r.RunID, &r.JobRef, &r.JobType, &r.Status, &r.InputsHash, &r.ArtifactDir, &r.ManifestJSON, &r.IndexedAt); err != nil {
			return nil, fmt.Errorf("reindex: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}
