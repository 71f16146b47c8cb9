package framestore

import "time"

// FinalizePolicy defines what happens to a session's frames when a run ends.
type FinalizePolicy int

const (
	// KeepAccepted archives accepted frames and drops rejected attempts
	KeepAccepted FinalizePolicy = iota
	// KeepAll archives everything, rejected attempts included
	KeepAll
	// DiscardAll drops the whole session
	DiscardAll
)

// String returns the policy name.
func (p FinalizePolicy) String() string {
	switch p {
	case KeepAccepted:
		return "keep-accepted"
	case KeepAll:
		return "keep-all"
	case DiscardAll:
		return "discard-all"
	default:
		return "keep-accepted"
	}
}

// Session is an open capture directory for one sequence run.
type Session struct {
	RunID     string    // Sequence run identifier
	Dir       string    // Absolute path to the session directory
	StartedAt time.Time // When Begin created the directory
}

// ArchiveResult represents the outcome of finalizing a session.
type ArchiveResult struct {
	ArchiveDir string   // Destination directory, empty when nothing was archived
	Archived   []string // Archived file names
	Dropped    int      // Files removed instead of archived
}
