package scheduler

import (
	"errors"
	"fmt"
	"sync"
)

// TaskState represents the lifecycle position of a task.
type TaskState int

const (
	StateCreated   TaskState = iota // body has not reached its first suspension point
	StateSuspended                  // parked, waiting for a resume
	StateCompleted                  // finished with a final value
	StateFailed                     // finished with an error
	StateCancelled                  // cut short before finishing
)

func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// DepPolicy determines how the scheduler treats a task whose dependency
// finished without succeeding.
type DepPolicy int

const (
	RequireSuccess  DepPolicy = iota // cancel the task, naming the failed dependency
	TolerateFailure                  // resume anyway; the body inspects outcomes via Await
)

func (p DepPolicy) String() string {
	switch p {
	case RequireSuccess:
		return "require-success"
	case TolerateFailure:
		return "tolerate-failure"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Body is a task's work, written as ordinary sequential code. It runs on its
// own goroutine but executes only while a driver is blocked inside New,
// Resume or Cancel, so body segments never run in parallel with the
// scheduler. Returning (v, nil) completes the task; returning an error
// fails it.
type Body func(h *Handle) (any, error)

// Handle is the body-side surface of a task. It must not escape the body.
type Handle struct {
	task *Task
}

// Task is a resumable unit of work. The constructor runs the body up to its
// first suspension point or terminal outcome; each Resume advances it one
// segment further. A task carries a single result slot holding at most one
// of: a progress value, a final value, or an error.
//
// Resume and Cancel are driver operations and must come from one goroutine
// at a time, normally the scheduler's run loop. State, Result, Progress and
// Done are safe to call from anywhere.
type Task struct {
	name string

	mu        sync.Mutex
	state     TaskState
	slot      result
	dependsOn []string
	policy    DepPolicy
	awaiting  *Task       // set while the body is parked in Await
	onError   func(error) // task-local failure handler
	cancelled error       // cancellation cause, once requested

	resume chan struct{}
	yield  chan struct{}
	abort  chan error // wakes a parked body with the cancellation cause
	done   chan struct{}
}

// NewTask creates a task and eagerly runs body up to its first suspension
// point or terminal outcome before returning.
func NewTask(name string, body Body) *Task {
	t := &Task{
		name:   name,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
		abort:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	go t.drive(body)
	t.waitYield()
	return t
}

func (t *Task) drive(body Body) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.finish(nil, fmt.Errorf("%w: %v", ErrTaskPanicked, r))
		}
	}()
	v, err := body(&Handle{task: t})
	t.finish(v, err)
}

// waitYield blocks the driving goroutine until the body suspends or
// terminates.
func (t *Task) waitYield() {
	select {
	case <-t.yield:
	case <-t.done:
	}
}

// park blocks the body until the next resume. If cancellation is pending it
// returns the cause without blocking.
func (t *Task) park() error {
	t.mu.Lock()
	cause := t.cancelled
	t.mu.Unlock()
	if cause != nil {
		return cause
	}
	select {
	case <-t.resume:
		return nil
	case cause := <-t.abort:
		return cause
	}
}

// finish records the terminal outcome. The final value or error overwrites
// any progress still in the slot.
func (t *Task) finish(v any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	switch {
	case err == nil:
		t.slot = finalOf(v)
		t.state = StateCompleted
	case errors.Is(err, ErrTaskCancelled):
		t.slot = failureOf(err)
		t.state = StateCancelled
	default:
		t.slot = failureOf(err)
		t.state = StateFailed
	}
}

// Resume advances the task to its next suspension point or terminal
// outcome. Resuming a terminal task is a no-op.
func (t *Task) Resume() {
	t.mu.Lock()
	terminal := t.state.Terminal()
	t.mu.Unlock()
	if terminal {
		return
	}
	select {
	case t.resume <- struct{}{}:
	case <-t.done:
		return
	}
	t.waitYield()
}

// Cancel requests cooperative cancellation and blocks until the task is
// terminal. A parked body is woken with cause; its suspension call returns
// the cause and any further suspension attempt fails immediately, so the
// body unwinds. A body that swallows the cause and completes anyway is
// recorded truthfully as completed. No-op on terminal tasks.
func (t *Task) Cancel(cause error) {
	if cause == nil {
		cause = ErrTaskCancelled
	} else if !errors.Is(cause, ErrTaskCancelled) {
		cause = fmt.Errorf("%w: %v", ErrTaskCancelled, cause)
	}

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	if t.cancelled == nil {
		t.cancelled = cause
	}
	t.mu.Unlock()

	select {
	case t.abort <- cause:
	default:
	}
	<-t.done
}

// Progress stores v as the task's intermediate result, replacing any
// previous progress value, and suspends until the next resume. A non-nil
// return means the task was cancelled while parked; the body should return
// that error.
func (h *Handle) Progress(v any) error {
	t := h.task
	t.mu.Lock()
	if cause := t.cancelled; cause != nil {
		t.mu.Unlock()
		return cause
	}
	t.slot = progressOf(v)
	t.state = StateSuspended
	t.mu.Unlock()

	t.yield <- struct{}{}
	return t.park()
}

// Await suspends the body until other is terminal, then returns other's
// final value or error. An already-finished task is read without
// suspending. The caller decides whether a dependency error is fatal:
// returning it fails (or cancels) the awaiting task, substituting a
// fallback tolerates it.
func (h *Handle) Await(other *Task) (any, error) {
	t := h.task
	if other == nil {
		return nil, errors.New("await nil task")
	}
	if other == t {
		return nil, errors.New("task cannot await itself")
	}
	for {
		select {
		case <-other.done:
			return other.Result()
		default:
		}

		t.mu.Lock()
		if cause := t.cancelled; cause != nil {
			t.mu.Unlock()
			return nil, cause
		}
		t.awaiting = other
		t.state = StateSuspended
		t.mu.Unlock()

		t.yield <- struct{}{}
		err := t.park()

		t.mu.Lock()
		t.awaiting = nil
		t.mu.Unlock()

		if err != nil {
			return nil, err
		}
	}
}

// Name returns the human-readable task name.
func (t *Task) Name() string { return t.name }

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the final value or terminal error. While the task has not
// finished it returns ErrTaskPending.
func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.slot.kind {
	case slotFinal:
		return t.slot.value, nil
	case slotFailure:
		return nil, t.slot.err
	default:
		return nil, ErrTaskPending
	}
}

// Progress returns the most recent intermediate value. The second return is
// false when none is pending, including after the task finishes.
func (t *Task) Progress() (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slot.kind != slotProgress {
		return nil, false
	}
	return t.slot.value, true
}

// Done returns a channel closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// OnError installs a task-local failure handler, consulted by the scheduler
// before its global handler. Returns the task for chaining.
func (t *Task) OnError(fn func(error)) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
	return t
}

// SetPolicy controls how the scheduler treats this task when one of its
// dependencies finishes without succeeding. Returns the task for chaining.
func (t *Task) SetPolicy(p DepPolicy) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policy = p
	return t
}

// Policy returns the dependency-failure policy.
func (t *Task) Policy() DepPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy
}

// Dependencies returns the dependency ids stamped at scheduling time.
func (t *Task) Dependencies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dependsOn...)
}

func (t *Task) setDependencies(deps []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dependsOn = append([]string(nil), deps...)
}

func (t *Task) errorHandler() func(error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onError
}

// awaitTarget returns the task this one is parked on, or nil.
func (t *Task) awaitTarget() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaiting
}
