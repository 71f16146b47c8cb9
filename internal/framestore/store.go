package framestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	sessionsDir  = "sessions"
	archiveDir   = "archive"
	rejectSuffix = ".reject.json"
)

// Store manages frame capture directories under one root. Every sequence
// run gets its own session directory; finalizing a session promotes its
// frames into the dated archive tree and removes the session.
type Store struct {
	root string
}

// NewStore creates a frame store rooted at the given directory.
func NewStore(root string) *Store {
	if root == "" {
		root = "frames"
	}
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Begin creates a fresh session directory for the given run.
func (s *Store) Begin(runID string) (*Session, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id must not be empty")
	}

	dir := filepath.Join(s.root, sessionsDir, runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("session %q already exists", runID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	return &Session{
		RunID:     runID,
		Dir:       dir,
		StartedAt: time.Now(),
	}, nil
}

// WriteFrame stores an accepted frame's metadata as indented JSON and
// returns the file path.
func (sess *Session) WriteFrame(name string, meta any) (string, error) {
	return sess.write(name+".json", meta)
}

// WriteReject stores a rejected attempt's metadata. Rejects are kept for
// diagnostics until the session is finalized.
func (sess *Session) WriteReject(name string, meta any) (string, error) {
	return sess.write(name+rejectSuffix, meta)
}

func (sess *Session) write(filename string, meta any) (string, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling frame %s: %w", filename, err)
	}

	path := filepath.Join(sess.Dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing frame %s: %w", filename, err)
	}
	return path, nil
}

// Frames returns the session's accepted frame file names, sorted.
func (sess *Session) Frames() ([]string, error) {
	entries, err := os.ReadDir(sess.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), rejectSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Finalize promotes the session's frames into the archive tree according
// to the policy, then removes the session directory.
func (s *Store) Finalize(sess *Session, policy FinalizePolicy) (*ArchiveResult, error) {
	entries, err := os.ReadDir(sess.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	result := &ArchiveResult{}

	if policy != DiscardAll {
		dest := filepath.Join(s.root, archiveDir, sess.StartedAt.Format("2006-01-02"), sess.RunID)

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if policy == KeepAccepted && strings.HasSuffix(name, rejectSuffix) {
				result.Dropped++
				continue
			}

			if result.ArchiveDir == "" {
				if err := os.MkdirAll(dest, 0755); err != nil {
					return nil, fmt.Errorf("creating archive directory: %w", err)
				}
				result.ArchiveDir = dest
			}

			src := filepath.Join(sess.Dir, name)
			if err := os.Rename(src, filepath.Join(dest, name)); err != nil {
				return nil, fmt.Errorf("archiving %s: %w", name, err)
			}
			result.Archived = append(result.Archived, name)
		}
		sort.Strings(result.Archived)
	} else {
		for _, entry := range entries {
			if !entry.IsDir() {
				result.Dropped++
			}
		}
	}

	if err := os.RemoveAll(sess.Dir); err != nil {
		return nil, fmt.Errorf("removing session directory: %w", err)
	}
	return result, nil
}

// Discard removes the session directory without archiving anything.
// Used on shutdown and failure paths.
func (s *Store) Discard(sess *Session) error {
	if err := os.RemoveAll(sess.Dir); err != nil {
		return fmt.Errorf("discarding session %s: %w", sess.RunID, err)
	}
	return nil
}

// Sessions returns the run IDs of sessions that were never finalized,
// sorted. These are usually leftovers from a crashed run.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune removes leftover sessions older than the given age and returns
// how many were removed.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	base := filepath.Join(s.root, sessionsDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing sessions: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(base, entry.Name())); err != nil {
			return removed, fmt.Errorf("pruning session %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
