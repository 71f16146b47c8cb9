package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// BeginRun inserts the run record. A run without a status starts as
// running.
func (s *SQLiteStore) BeginRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	status := run.Status
	if status == "" {
		status = RunRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_runs (id, plan, fingerprint, status, report)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Plan, strconv.FormatUint(run.Fingerprint, 10), status, run.Report)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's terminal status, report, and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status, report string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sequence_runs
		SET status = ?, report = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, report, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	var fingerprint string
	var finished sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, plan, fingerprint, status, report, started_at, finished_at
		FROM sequence_runs
		WHERE id = ?
	`, runID).Scan(&run.ID, &run.Plan, &fingerprint, &run.Status, &run.Report, &run.StartedAt, &finished)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	run.Fingerprint, err = strconv.ParseUint(fingerprint, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run fingerprint: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive
// limit returns all of them.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative limit as unbounded
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan, fingerprint, status, report, started_at, finished_at
		FROM sequence_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var fingerprint string
		var finished sql.NullTime

		if err := rows.Scan(&run.ID, &run.Plan, &fingerprint, &run.Status, &run.Report, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Fingerprint, err = strconv.ParseUint(fingerprint, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run fingerprint: %w", err)
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// SaveTaskRun saves or updates a task record and its dependencies.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTaskRun(ctx context.Context, rec *TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, task_id, name, op, state, value, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			name = excluded.name,
			op = excluded.op,
			state = excluded.state,
			value = excluded.value,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, rec.RunID, rec.TaskID, rec.Name, rec.Op, rec.State, rec.Value, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert task run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM task_run_deps WHERE run_id = ? AND task_id = ?
	`, rec.RunID, rec.TaskID)
	if err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for _, depID := range rec.DependsOn {
		// Dependencies are recorded in plan order, so the dep row exists
		var exists int
		err = tx.QueryRowContext(ctx, `
			SELECT 1 FROM task_runs WHERE run_id = ? AND task_id = ?
		`, rec.RunID, depID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("task run %s depends on unrecorded task %s", rec.TaskID, depID)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency existence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_run_deps (run_id, task_id, depends_on_id)
			VALUES (?, ?, ?)
		`, rec.RunID, rec.TaskID, depID)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", rec.TaskID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TaskRuns returns all task records of a run with their dependencies.
func (s *SQLiteStore) TaskRuns(ctx context.Context, runID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, op, state, value, error
		FROM task_runs
		WHERE run_id = ?
		ORDER BY created_at, task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var recs []*TaskRecord
	for rows.Next() {
		rec := &TaskRecord{RunID: runID}
		if err := rows.Scan(&rec.TaskID, &rec.Name, &rec.Op, &rec.State, &rec.Value, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}

		depRows, err := s.db.QueryContext(ctx, `
			SELECT depends_on_id
			FROM task_run_deps
			WHERE run_id = ? AND task_id = ?
			ORDER BY depends_on_id
		`, runID, rec.TaskID)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies for task %s: %w", rec.TaskID, err)
		}

		rec.DependsOn = []string{}
		for depRows.Next() {
			var depID string
			if err := depRows.Scan(&depID); err != nil {
				depRows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			rec.DependsOn = append(rec.DependsOn, depID)
		}
		depRows.Close()

		if err := depRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating dependencies: %w", err)
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task runs: %w", err)
	}
	return recs, nil
}

// RecordProgress appends one progress entry for a task.
func (s *SQLiteStore) RecordProgress(ctx context.Context, runID, taskID, stage, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress_log (run_id, task_id, stage, detail)
		VALUES (?, ?, ?, ?)
	`, runID, taskID, stage, detail)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	return nil
}

// History retrieves a task's progress entries in chronological order.
// Returns an empty slice (not nil) when there are none.
func (s *SQLiteStore) History(ctx context.Context, runID, taskID string) ([]ProgressEntry, error) {
	// Double sort: at ASC, id ASC keeps order stable for same-second entries
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, detail, at
		FROM progress_log
		WHERE run_id = ? AND task_id = ?
		ORDER BY at ASC, id ASC
	`, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []ProgressEntry{}
	for rows.Next() {
		entry := ProgressEntry{RunID: runID, TaskID: taskID}
		if err := rows.Scan(&entry.Stage, &entry.Detail, &entry.At); err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		history = append(history, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}
