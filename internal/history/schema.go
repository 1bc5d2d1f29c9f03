package history

import (
	"context"
	"fmt"
)

const createRunsSQL = `CREATE TABLE IF NOT EXISTS revgraph_runs (
    run_id       TEXT PRIMARY KEY,
    input_path   TEXT NOT NULL,
    source_type  TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL,
    fatal        BOOLEAN NOT NULL,
    cancelled    BOOLEAN NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    health_score INTEGER,
    total_files  INTEGER NOT NULL DEFAULT 0,
    findings     INTEGER NOT NULL DEFAULT 0
)`

const createTasksSQL = `CREATE TABLE IF NOT EXISTS revgraph_tasks (
    run_id        TEXT NOT NULL REFERENCES revgraph_runs (run_id) ON DELETE CASCADE,
    task_id       TEXT NOT NULL,
    status        TEXT NOT NULL,
    attempts      INTEGER NOT NULL DEFAULT 0,
    skip_reason   TEXT NOT NULL DEFAULT '',
    error_kind    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ,
    duration_ms   BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, task_id)
)`

const createStartedIndexSQL = `CREATE INDEX IF NOT EXISTS idx_revgraph_runs_started
    ON revgraph_runs (started_at DESC)`

// EnsureSchema creates the history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	steps := []struct {
		name string
		sql  string
	}{
		{"runs table", createRunsSQL},
		{"tasks table", createTasksSQL},
		{"started index", createStartedIndexSQL},
	}
	for _, step := range steps {
		if _, err := s.db.Exec(ctx, step.sql); err != nil {
			return fmt.Errorf("history: create %s: %w", step.name, err)
		}
	}
	return nil
}
