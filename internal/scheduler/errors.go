package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskPending is returned by Result while a task has produced no
	// terminal outcome yet.
	ErrTaskPending = errors.New("task has no result yet")

	// ErrTaskCancelled is the base cause delivered to a task body when its
	// execution is cut short. Terminal errors matching it land the task in
	// StateCancelled rather than StateFailed.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrUnknownTask is returned when an id was never scheduled.
	ErrUnknownTask = errors.New("unknown task")

	// ErrTaskPanicked marks errors recovered from a panicking task body.
	ErrTaskPanicked = errors.New("task panicked")
)

// DependencyError is the cancellation cause handed to a task whose required
// dependency did not succeed.
type DependencyError struct {
	TaskID     string // the cancelled task
	Dependency string // the dependency that failed or was cancelled
	Cause      error  // the dependency's own terminal error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("task %q cancelled: dependency %q did not succeed: %v", e.TaskID, e.Dependency, e.Cause)
}

func (e *DependencyError) Unwrap() error { return e.Cause }

// Is reports a match for ErrTaskCancelled so that dependency cancellation
// terminates the affected task in StateCancelled.
func (e *DependencyError) Is(target error) bool { return target == ErrTaskCancelled }

// ExhaustedRetriesError reports that a bounded retry loop ran out of
// attempts without an acceptable outcome. It is a distinct failure, never
// an alias for success.
type ExhaustedRetriesError struct {
	Op       string // what was being retried, e.g. "exposure"
	Attempts int
	Err      error // the last attempt's verdict
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Err }

// StallError is returned by Run when a scan makes no progress while tasks
// remain pending, meaning no later scan could ever make progress either.
type StallError struct {
	Remaining []string // pending task ids at the time of the stall
	Detail    string   // cycle or missing-dependency diagnosis
}

func (e *StallError) Error() string {
	return fmt.Sprintf("scheduler stalled with %d tasks pending: %s", len(e.Remaining), e.Detail)
}
