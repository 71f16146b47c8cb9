package framestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type frameMeta struct {
	Target  string  `json:"target"`
	Quality float64 `json:"quality"`
}

func TestStore_BeginCreatesSessionDir(t *testing.T) {
	store := NewStore(t.TempDir())

	sess, err := store.Begin("run-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	info, err := os.Stat(sess.Dir)
	if err != nil {
		t.Fatalf("session dir missing: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("session path is not a directory: %s", sess.Dir)
	}
	if sess.RunID != "run-1" {
		t.Errorf("run id = %q, want run-1", sess.RunID)
	}
}

func TestStore_BeginRejectsDuplicate(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Begin("run-1"); err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	if _, err := store.Begin("run-1"); err == nil {
		t.Fatal("duplicate Begin should fail")
	}
}

func TestStore_BeginRejectsEmptyRunID(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Begin(""); err == nil {
		t.Fatal("empty run id should fail")
	}
}

func TestSession_WriteFrameAndList(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Begin("run-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	path, err := sess.WriteFrame("m42-001", frameMeta{Target: "M42", Quality: 0.91})
	if err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := sess.WriteReject("m42-001-attempt1", frameMeta{Target: "M42", Quality: 0.2}); err != nil {
		t.Fatalf("WriteReject failed: %v", err)
	}

	// Frame content should be valid JSON with the metadata
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var meta frameMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if meta.Target != "M42" || meta.Quality != 0.91 {
		t.Errorf("frame meta = %+v", meta)
	}

	// Frames lists accepted frames only
	frames, err := sess.Frames()
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 1 || frames[0] != "m42-001.json" {
		t.Errorf("frames = %v, want [m42-001.json]", frames)
	}
}

func TestStore_FinalizeKeepAccepted(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, _ := store.Begin("run-1")
	sess.WriteFrame("m42-001", frameMeta{Target: "M42", Quality: 0.9})
	sess.WriteReject("m42-001-attempt1", frameMeta{Target: "M42", Quality: 0.2})

	result, err := store.Finalize(sess, KeepAccepted)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if len(result.Archived) != 1 || result.Archived[0] != "m42-001.json" {
		t.Errorf("archived = %v, want [m42-001.json]", result.Archived)
	}
	if result.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", result.Dropped)
	}

	// Archived file exists under a dated directory
	archived := filepath.Join(result.ArchiveDir, "m42-001.json")
	if _, err := os.Stat(archived); err != nil {
		t.Errorf("archived frame missing: %v", err)
	}

	// Session directory is gone
	if _, err := os.Stat(sess.Dir); !os.IsNotExist(err) {
		t.Errorf("session dir should be removed, stat err = %v", err)
	}
}

func TestStore_FinalizeKeepAll(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, _ := store.Begin("run-1")
	sess.WriteFrame("m42-001", frameMeta{})
	sess.WriteReject("m42-001-attempt1", frameMeta{})

	result, err := store.Finalize(sess, KeepAll)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(result.Archived) != 2 {
		t.Errorf("archived = %v, want both files", result.Archived)
	}
	if result.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", result.Dropped)
	}
}

func TestStore_FinalizeDiscardAll(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	sess, _ := store.Begin("run-1")
	sess.WriteFrame("m42-001", frameMeta{})

	result, err := store.Finalize(sess, DiscardAll)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(result.Archived) != 0 || result.Dropped != 1 {
		t.Errorf("result = %+v, want nothing archived, one dropped", result)
	}

	// No archive tree should appear
	if _, err := os.Stat(filepath.Join(root, "archive")); !os.IsNotExist(err) {
		t.Errorf("archive dir should not exist, stat err = %v", err)
	}
}

func TestStore_Discard(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, _ := store.Begin("run-1")
	sess.WriteFrame("m42-001", frameMeta{})

	if err := store.Discard(sess); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := os.Stat(sess.Dir); !os.IsNotExist(err) {
		t.Errorf("session dir should be removed, stat err = %v", err)
	}
}

func TestStore_SessionsAndPrune(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	stale, _ := store.Begin("run-old")
	fresh, _ := store.Begin("run-new")
	_ = fresh

	ids, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "run-new" || ids[1] != "run-old" {
		t.Errorf("sessions = %v, want [run-new run-old]", ids)
	}

	// Age the stale session beyond the prune window
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale.Dir, old, old); err != nil {
		t.Fatalf("aging session dir: %v", err)
	}

	removed, err := store.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d sessions, want 1", removed)
	}

	ids, _ = store.Sessions()
	if len(ids) != 1 || ids[0] != "run-new" {
		t.Errorf("sessions after prune = %v, want [run-new]", ids)
	}
}

func TestStore_PruneMissingRootIsNoop(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-created"))

	removed, err := store.Prune(time.Hour)
	if err != nil {
		t.Fatalf("Prune on missing root failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}

	ids, err := store.Sessions()
	if err != nil || ids != nil {
		t.Errorf("Sessions on missing root = %v, %v; want nil, nil", ids, err)
	}
}
