// Package registry records pipeline runs and their artifacts in a local
// SQLite database, so past runs can be listed and aggregated without
// re-reading workspace directories.
package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID             string
	Status         string
	PopulationPath string
	LULCPath       string
	WorkspaceDir   string
	ResultsSuffix  string
	SearchDistance float64
	DecayFunction  string
	Accessibility  string
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// Registry is a SQLite-backed run log.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database and configures WAL
// mode.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "registry: exec %s", pragma)
		}
	}
	return &Registry{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'running',
	population_path TEXT NOT NULL,
	lulc_path       TEXT NOT NULL,
	workspace_dir   TEXT NOT NULL,
	results_suffix  TEXT NOT NULL DEFAULT '',
	search_distance REAL NOT NULL,
	decay_function  TEXT NOT NULL,
	accessibility   TEXT,
	error           TEXT,
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the schema if it does not exist.
func (r *Registry) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "registry: migrate")
}

// Close releases the database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Begin records the start of a run and returns its ID.
func (r *Registry) Begin(ctx context.Context, run Run) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, population_path, lulc_path, workspace_dir,
			results_suffix, search_distance, decay_function, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, StatusRunning, run.PopulationPath, run.LULCPath, run.WorkspaceDir,
		run.ResultsSuffix, run.SearchDistance, run.DecayFunction, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "registry: insert run")
	}
	return id, nil
}

// Complete marks a run successful and records its accessibility artifact.
func (r *Registry) Complete(ctx context.Context, id, accessibilityPath string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, accessibility = ?, finished_at = ? WHERE id = ?`,
		StatusSucceeded, accessibilityPath, time.Now().UTC(), id,
	)
	return eris.Wrap(err, "registry: complete run")
}

// Fail marks a run failed with the surfaced error message.
func (r *Registry) Fail(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, message, time.Now().UTC(), id,
	)
	return eris.Wrap(err, "registry: fail run")
}

// List returns runs newest first.
func (r *Registry) List(ctx context.Context) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, population_path, lulc_path, workspace_dir, results_suffix,
			search_distance, decay_function,
			COALESCE(accessibility, ''), COALESCE(error, ''),
			started_at, finished_at
		 FROM runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "registry: query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.Status, &run.PopulationPath, &run.LULCPath,
			&run.WorkspaceDir, &run.ResultsSuffix,
			&run.SearchDistance, &run.DecayFunction,
			&run.Accessibility, &run.Error,
			&run.StartedAt, &finished,
		); err != nil {
			return nil, eris.Wrap(err, "registry: scan run row")
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "registry: iterate run rows")
	}
	return runs, nil
}
