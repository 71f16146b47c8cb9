package journal

import (
	"context"
	"strings"
	"testing"
)

// testStore creates an in-memory journal for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestBeginAndGetRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{
		ID:   NewRunID(),
		Plan: "m42-session",
		// Larger than a signed 64-bit value, to exercise the text column
		Fingerprint: 12345678901234567890,
	}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("failed to begin run: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.Plan != "m42-session" {
		t.Errorf("plan mismatch: got %s", retrieved.Plan)
	}
	if retrieved.Fingerprint != run.Fingerprint {
		t.Errorf("fingerprint mismatch: got %d, want %d", retrieved.Fingerprint, run.Fingerprint)
	}
	if retrieved.Status != RunRunning {
		t.Errorf("status should default to running, got %s", retrieved.Status)
	}
	if retrieved.StartedAt.IsZero() {
		t.Error("started_at was not set")
	}
	if !retrieved.FinishedAt.IsZero() {
		t.Errorf("finished_at should be zero while running, got %v", retrieved.FinishedAt)
	}
}

func TestBeginRunRequiresID(t *testing.T) {
	store := testStore(t)

	err := store.BeginRun(context.Background(), &Run{Plan: "nameless"})
	if err == nil {
		t.Fatal("expected error for run without id")
	}
}

func TestFinishRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: NewRunID(), Plan: "m42-session", Fingerprint: 42}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("failed to begin run: %v", err)
	}

	if err := store.FinishRun(ctx, run.ID, RunCompleted, "4 tasks, 4 succeeded"); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.Status != RunCompleted {
		t.Errorf("status should be completed, got %s", retrieved.Status)
	}
	if retrieved.Report != "4 tasks, 4 succeeded" {
		t.Errorf("report mismatch: got %s", retrieved.Report)
	}
	if retrieved.FinishedAt.IsZero() {
		t.Error("finished_at was not set")
	}
}

func TestFinishRunNotFound(t *testing.T) {
	store := testStore(t)

	err := store.FinishRun(context.Background(), "nonexistent", RunFailed, "")
	if err == nil {
		t.Fatal("expected error when finishing non-existent run, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected 'not found' error, got: %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := testStore(t)

	if _, err := store.GetRun(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error for unknown run, got nil")
	}
}

func TestListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ids := make(map[string]bool)
	for _, plan := range []string{"m42", "ngc7000", "rosette"} {
		run := &Run{ID: NewRunID(), Plan: plan, Fingerprint: 1}
		if err := store.BeginRun(ctx, run); err != nil {
			t.Fatalf("failed to begin run %s: %v", plan, err)
		}
		ids[run.ID] = true
	}

	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	for _, run := range all {
		if !ids[run.ID] {
			t.Errorf("unexpected run id %s", run.ID)
		}
	}

	limited, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list limited runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(limited))
	}
}

func TestSaveAndListTaskRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: NewRunID(), Plan: "m42-session", Fingerprint: 7}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("failed to begin run: %v", err)
	}

	records := []*TaskRecord{
		{RunID: run.ID, TaskID: "point", Name: "point", Op: "slew", State: "pending"},
		{RunID: run.ID, TaskID: "capture", Name: "capture", Op: "exposure", State: "pending", DependsOn: []string{"point"}},
		{RunID: run.ID, TaskID: "grade", Name: "grade", Op: "grade", State: "pending", DependsOn: []string{"point", "capture"}},
	}
	for _, rec := range records {
		if err := store.SaveTaskRun(ctx, rec); err != nil {
			t.Fatalf("failed to save task run %s: %v", rec.TaskID, err)
		}
	}

	recs, err := store.TaskRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list task runs: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 task runs, got %d", len(recs))
	}

	byID := make(map[string]*TaskRecord)
	for _, rec := range recs {
		byID[rec.TaskID] = rec
	}
	if byID["capture"].Op != "exposure" {
		t.Errorf("capture op mismatch: got %s", byID["capture"].Op)
	}
	if len(byID["capture"].DependsOn) != 1 || byID["capture"].DependsOn[0] != "point" {
		t.Errorf("capture deps = %v", byID["capture"].DependsOn)
	}
	if len(byID["grade"].DependsOn) != 2 {
		t.Errorf("grade should have 2 dependencies, got %d", len(byID["grade"].DependsOn))
	}
}

func TestSaveTaskRunIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: NewRunID(), Plan: "m42-session", Fingerprint: 7}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("failed to begin run: %v", err)
	}

	rec := &TaskRecord{RunID: run.ID, TaskID: "capture", Name: "capture", Op: "exposure", State: "pending"}
	if err := store.SaveTaskRun(ctx, rec); err != nil {
		t.Fatalf("failed to save task run: %v", err)
	}

	rec.State = "succeeded"
	rec.Value = "frame M42 quality 0.93"
	if err := store.SaveTaskRun(ctx, rec); err != nil {
		t.Fatalf("failed to save task run second time: %v", err)
	}

	recs, err := store.TaskRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list task runs: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 task run after upsert, got %d", len(recs))
	}
	if recs[0].State != "succeeded" {
		t.Errorf("state should be succeeded after update, got %s", recs[0].State)
	}
	if recs[0].Value != "frame M42 quality 0.93" {
		t.Errorf("value mismatch: got %s", recs[0].Value)
	}
}

func TestSaveTaskRunUnrecordedDependency(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: NewRunID(), Plan: "m42-session", Fingerprint: 7}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("failed to begin run: %v", err)
	}

	rec := &TaskRecord{RunID: run.ID, TaskID: "capture", Op: "exposure", State: "pending", DependsOn: []string{"ghost"}}
	err := store.SaveTaskRun(ctx, rec)
	if err == nil {
		t.Fatal("expected error for dependency on unrecorded task, got nil")
	}
	if !strings.Contains(err.Error(), "unrecorded") {
		t.Errorf("error = %v, want unrecorded dependency message", err)
	}
}

func TestProgressHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: NewRunID(), Plan: "m42-session", Fingerprint: 7}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("failed to begin run: %v", err)
	}

	stages := []string{"exposing", "retrying", "exposing"}
	for i, stage := range stages {
		detail := ""
		if stage == "retrying" {
			detail = "quality 0.42 below threshold"
		}
		if err := store.RecordProgress(ctx, run.ID, "capture", stage, detail); err != nil {
			t.Fatalf("failed to record progress %d: %v", i, err)
		}
	}

	history, err := store.History(ctx, run.ID, "capture")
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, stage := range stages {
		if history[i].Stage != stage {
			t.Errorf("entry %d stage = %s, want %s", i, history[i].Stage, stage)
		}
		if history[i].At.IsZero() {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
	if history[1].Detail != "quality 0.42 below threshold" {
		t.Errorf("entry 1 detail = %q", history[1].Detail)
	}

	// No entries for a task that never reported
	empty, err := store.History(ctx, run.ID, "archive")
	if err != nil {
		t.Fatalf("failed to get empty history: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil history, got %v", empty)
	}
}

func TestForeignKeyEnforced(t *testing.T) {
	store := testStore(t)

	err := store.RecordProgress(context.Background(), "no-such-run", "capture", "exposing", "")
	if err == nil {
		t.Fatal("expected error recording progress for unknown run, got nil")
	}
}
