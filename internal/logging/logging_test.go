package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFileLoggerWritesJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	log, f, err := File(dir, false)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	defer f.Close()

	log.Info().Str("plan", "orion").Msg("sequence started")

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	if entry["plan"] != "orion" || entry["message"] != "sequence started" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["time"] == nil {
		t.Error("entry has no timestamp")
	}
}

func TestFileLoggerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "logs")

	_, f, err := File(dir, false)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	f.Close()

	if !strings.HasPrefix(filepath.Base(f.Name()), "astrosched_") {
		t.Errorf("log file name = %s, want astrosched_ prefix", filepath.Base(f.Name()))
	}
}

func TestDebugTogglesLevel(t *testing.T) {
	if got := Console(false).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("default level = %v, want info", got)
	}
	if got := Console(true).GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("debug level = %v, want debug", got)
	}
}
