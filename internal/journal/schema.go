package journal

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sequence_runs (
		id TEXT PRIMARY KEY,
		plan TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		status TEXT NOT NULL,
		report TEXT NOT NULL DEFAULT '',
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_runs (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		op TEXT NOT NULL,
		state TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES sequence_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_run_deps (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (run_id, task_id, depends_on_id),
		FOREIGN KEY (run_id, task_id) REFERENCES task_runs(run_id, task_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_run_deps_task ON task_run_deps(run_id, task_id);

	CREATE TABLE IF NOT EXISTS progress_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES sequence_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_progress_log_run_task ON progress_log(run_id, task_id, at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
