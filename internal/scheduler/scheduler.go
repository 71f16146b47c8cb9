package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
	"github.com/rs/zerolog"

	"github.com/astrosched/astrosched/internal/events"
)

// DefaultPollInterval is the pause between scans when nothing is ready.
const DefaultPollInterval = 100 * time.Millisecond

// CompletionState classifies how a task left the pending set.
type CompletionState int

const (
	CompletionSucceeded CompletionState = iota + 1
	CompletionFailed
	CompletionCancelled
)

func (s CompletionState) String() string {
	switch s {
	case CompletionSucceeded:
		return "succeeded"
	case CompletionFailed:
		return "failed"
	case CompletionCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("completion(%d)", int(s))
	}
}

// Completion is the recorded outcome of a task that finished.
type Completion struct {
	State CompletionState
	Value any
	Err   error
}

// entry is a registered task with its readiness bookkeeping.
type entry struct {
	id      string
	task    *Task
	deps    []string
	waiting int   // registered dependencies not yet finished
	cascade error // set when a required dependency did not succeed
}

// Scheduler drives registered tasks to completion on a single goroutine.
// Each scan resumes every task whose dependencies have all finished, then
// sleeps one poll interval. Finished ids enter the completion map exactly
// once and never leave it.
type Scheduler struct {
	mu         sync.Mutex
	pending    map[string]*entry
	finished   map[string]Completion
	dependents map[string][]string // dep id -> pending ids waiting on it

	interval   time.Duration
	errFn      func(id string, err error)
	hook       func(id string, c Completion)
	progressFn func(id string, v any)
	bus        *events.Bus
	log        zerolog.Logger
}

// New creates a scheduler with the default poll interval.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		pending:    make(map[string]*entry),
		finished:   make(map[string]Completion),
		dependents: make(map[string][]string),
		interval:   DefaultPollInterval,
		log:        log,
	}
}

// SetPollInterval adjusts the pause between scans. Call before Run.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// SetBus attaches an event bus for task lifecycle events. Call before Run.
func (s *Scheduler) SetBus(bus *events.Bus) {
	s.bus = bus
}

// SetErrorHandler installs the scheduler-wide failure handler, consulted
// when a failed task has no handler of its own. Call before Run.
func (s *Scheduler) SetErrorHandler(fn func(id string, err error)) {
	s.errFn = fn
}

// SetCompletionHook installs fn, called after every task settles, outside
// the scheduler lock. Hooks may call Schedule to spawn follow-up tasks.
// Call before Run.
func (s *Scheduler) SetCompletionHook(fn func(id string, c Completion)) {
	s.hook = fn
}

// SetProgressHook installs fn, called whenever a scan finds a task
// suspended with a fresh progress value. Call before Run.
func (s *Scheduler) SetProgressHook(fn func(id string, v any)) {
	s.progressFn = fn
}

// Schedule registers task under id with the given dependency ids. An id
// already pending is overwritten: the new registration fully replaces the
// old one, dependencies included, and the displaced task is cancelled so
// its goroutine exits. Dependencies are satisfied by any terminal outcome;
// the task's DepPolicy decides what a non-success means for it.
func (s *Scheduler) Schedule(id string, task *Task, deps ...string) {
	s.mu.Lock()
	old, displaced := s.pending[id]
	if displaced {
		s.unlink(old)
	}

	e := &entry{id: id, task: task, deps: append([]string(nil), deps...)}
	for _, dep := range e.deps {
		if c, ok := s.finished[dep]; ok {
			if c.State != CompletionSucceeded && task.Policy() == RequireSuccess && e.cascade == nil {
				e.cascade = &DependencyError{TaskID: id, Dependency: dep, Cause: c.Err}
			}
			continue
		}
		e.waiting++
		s.dependents[dep] = append(s.dependents[dep], id)
	}
	s.pending[id] = e
	s.mu.Unlock()

	task.setDependencies(e.deps)

	if displaced && old.task != task {
		old.task.Cancel(fmt.Errorf("displaced by a new task scheduled as %q", id))
	}

	s.log.Debug().Str("task", id).Strs("deps", deps).Msg("task scheduled")
	s.publish(events.TaskScheduled{ID: id, Name: task.Name(), DependsOn: e.deps, At: time.Now()})
}

// unlink removes e's dependency registrations, leaving other entries'
// counters untouched.
func (s *Scheduler) unlink(e *entry) {
	for _, dep := range e.deps {
		subs := s.dependents[dep]
		for i, id := range subs {
			if id == e.id {
				s.dependents[dep] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// settle moves e from pending to finished and releases its dependents:
// waiting counters drop, and required-success dependents of a non-success
// are stamped for cancellation.
func (s *Scheduler) settle(e *entry, c Completion) {
	s.finished[e.id] = c
	delete(s.pending, e.id)

	for _, depID := range s.dependents[e.id] {
		waiter, ok := s.pending[depID]
		if !ok {
			continue
		}
		if waiter.waiting > 0 {
			waiter.waiting--
		}
		if c.State != CompletionSucceeded && waiter.cascade == nil && waiter.task.Policy() == RequireSuccess {
			waiter.cascade = &DependencyError{TaskID: depID, Dependency: e.id, Cause: c.Err}
		}
	}
	delete(s.dependents, e.id)
}

// Run drives registered tasks until none remain pending. It returns nil
// once the pending set empties, the context error if ctx ends first, and a
// *StallError when the remaining tasks can never run (a dependency cycle,
// dependencies that were never scheduled, or awaits that cannot finish).
// In both error cases the surviving tasks are cancelled before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats := s.scan()
		s.publish(events.SchedulerTick{
			Pending:   stats.pending,
			Resumed:   stats.resumed,
			Succeeded: stats.succeeded,
			Failed:    stats.failed,
			Cancelled: stats.cancelled,
			At:        time.Now(),
		})

		s.mu.Lock()
		remaining := len(s.pending)
		s.mu.Unlock()

		if remaining == 0 {
			return nil
		}
		if stats.idle() {
			return s.failStalled()
		}

		select {
		case <-ctx.Done():
			s.cancelRemaining(fmt.Errorf("scheduler shutting down: %w", ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tickStats counts what one scan did.
type tickStats struct {
	pending   int
	resumed   int
	succeeded int
	failed    int
	cancelled int
}

// idle reports a scan that neither resumed nor settled anything. Since only
// scans change task readiness, an idle scan with tasks pending means no
// later scan can do better.
func (st tickStats) idle() bool {
	return st.resumed == 0 && st.succeeded == 0 && st.failed == 0 && st.cancelled == 0
}

// scan walks a snapshot of the pending set in id order and advances every
// entry that is ready: already-terminal tasks settle, cascade-stamped tasks
// are cancelled, unblocked tasks are resumed. Tasks parked on an await stay
// untouched until their target finishes.
func (s *Scheduler) scan() tickStats {
	var st tickStats

	s.mu.Lock()
	snapshot := make([]*entry, 0, len(s.pending))
	for _, e := range s.pending {
		snapshot = append(snapshot, e)
	}
	st.pending = len(snapshot)
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })

	for _, e := range snapshot {
		s.mu.Lock()
		if s.pending[e.id] != e {
			// displaced mid-scan by a completion hook
			s.mu.Unlock()
			continue
		}
		cascade := e.cascade
		blocked := e.waiting > 0
		s.mu.Unlock()

		switch {
		case e.task.State().Terminal():
			// settles below; covers tasks that failed eagerly at construction
		case cascade != nil:
			e.task.Cancel(cascade)
		case blocked:
			continue
		default:
			if target := e.task.awaitTarget(); target != nil && !target.State().Terminal() {
				continue
			}
			e.task.Resume()
			st.resumed++
		}

		s.concludeByState(e, &st)
	}
	return st
}

// concludeByState settles e according to the task's current state, or
// publishes fresh progress when the task merely suspended again.
func (s *Scheduler) concludeByState(e *entry, st *tickStats) {
	switch e.task.State() {
	case StateCompleted:
		v, _ := e.task.Result()
		s.conclude(e, Completion{State: CompletionSucceeded, Value: v}, st)
	case StateFailed:
		_, err := e.task.Result()
		s.routeError(e, err)
		s.conclude(e, Completion{State: CompletionFailed, Err: err}, st)
	case StateCancelled:
		_, err := e.task.Result()
		s.conclude(e, Completion{State: CompletionCancelled, Err: err}, st)
	default:
		if v, ok := e.task.Progress(); ok {
			s.publish(events.TaskProgress{ID: e.id, Value: v, At: time.Now()})
			if s.progressFn != nil {
				s.progressFn(e.id, v)
			}
		}
	}
}

// conclude records the completion, then notifies log, bus and hook outside
// the lock.
func (s *Scheduler) conclude(e *entry, c Completion, st *tickStats) {
	s.mu.Lock()
	if s.pending[e.id] != e {
		s.mu.Unlock()
		return
	}
	s.settle(e, c)
	s.mu.Unlock()

	now := time.Now()
	switch c.State {
	case CompletionSucceeded:
		st.succeeded++
		s.log.Info().Str("task", e.id).Msg("task completed")
		s.publish(events.TaskCompleted{ID: e.id, Value: c.Value, At: now})
	case CompletionFailed:
		st.failed++
		s.log.Warn().Str("task", e.id).Err(c.Err).Msg("task failed")
		s.publish(events.TaskFailed{ID: e.id, Err: c.Err, At: now})
	case CompletionCancelled:
		st.cancelled++
		s.log.Warn().Str("task", e.id).Err(c.Err).Msg("task cancelled")
		s.publish(events.TaskCancelled{ID: e.id, Reason: c.Err, At: now})
	}

	if s.hook != nil {
		s.hook(e.id, c)
	}
}

// routeError delivers a task failure to the task-local handler, else the
// scheduler-wide handler, else the log. A panicking handler is contained.
func (s *Scheduler) routeError(e *entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("task", e.id).Interface("panic", r).Msg("error handler panicked")
		}
	}()

	if fn := e.task.errorHandler(); fn != nil {
		fn(err)
		return
	}
	if s.errFn != nil {
		s.errFn(e.id, err)
		return
	}
	s.log.Error().Str("task", e.id).Err(err).Msg("unhandled task failure")
}

// failStalled cancels everything still pending with a diagnosis of why no
// progress was possible and returns the stall error.
func (s *Scheduler) failStalled() error {
	s.mu.Lock()
	remaining := make([]*entry, 0, len(s.pending))
	ids := make([]string, 0, len(s.pending))
	for id, e := range s.pending {
		remaining = append(remaining, e)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	detail := s.diagnose()
	s.mu.Unlock()

	serr := &StallError{Remaining: ids, Detail: detail}
	s.log.Error().Strs("tasks", ids).Str("detail", detail).Msg("scheduler stalled")

	var st tickStats
	for _, e := range remaining {
		e.task.Cancel(serr)
		s.concludeByState(e, &st)
	}
	return serr
}

// cancelRemaining drains the pending set with the given cause, settling
// each task as it goes.
func (s *Scheduler) cancelRemaining(cause error) {
	s.mu.Lock()
	remaining := make([]*entry, 0, len(s.pending))
	for _, e := range s.pending {
		remaining = append(remaining, e)
	}
	s.mu.Unlock()

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].id < remaining[j].id })

	var st tickStats
	for _, e := range remaining {
		e.task.Cancel(cause)
		s.concludeByState(e, &st)
	}
}

// diagnose names why no pending task can run: dependencies that were never
// scheduled, a dependency cycle, or awaits on tasks that never finish.
// Callers hold s.mu.
func (s *Scheduler) diagnose() string {
	var missing []string
	for id, e := range s.pending {
		for _, dep := range e.deps {
			if _, ok := s.pending[dep]; ok {
				continue
			}
			if _, ok := s.finished[dep]; ok {
				continue
			}
			missing = append(missing, fmt.Sprintf("%s -> %s", id, dep))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "dependencies never scheduled: " + strings.Join(missing, ", ")
	}

	var edges []toposort.Edge
	for id, e := range s.pending {
		hasPendingDep := false
		for _, dep := range e.deps {
			if _, ok := s.pending[dep]; ok {
				edges = append(edges, toposort.Edge{dep, id})
				hasPendingDep = true
			}
		}
		if !hasPendingDep {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Sprintf("dependency cycle: %v", err)
	}

	var awaits []string
	for id, e := range s.pending {
		if target := e.task.awaitTarget(); target != nil {
			awaits = append(awaits, fmt.Sprintf("%s awaits %q", id, target.Name()))
		}
	}
	if len(awaits) > 0 {
		sort.Strings(awaits)
		return "blocked awaits: " + strings.Join(awaits, ", ")
	}

	return "no task is ready and nothing can unblock"
}

// Result reports a task's outcome: its final value, its terminal error,
// ErrTaskPending while it is still registered, or ErrUnknownTask for an id
// never scheduled.
func (s *Scheduler) Result(id string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.finished[id]; ok {
		if c.State == CompletionSucceeded {
			return c.Value, nil
		}
		return nil, c.Err
	}
	if _, ok := s.pending[id]; ok {
		return nil, ErrTaskPending
	}
	return nil, ErrUnknownTask
}

// Outcome returns the recorded completion for id, if it has one.
func (s *Scheduler) Outcome(id string) (Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.finished[id]
	return c, ok
}

// Outcomes returns a snapshot of every recorded completion, keyed by id.
func (s *Scheduler) Outcomes() map[string]Completion {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Completion, len(s.finished))
	for id, c := range s.finished {
		out[id] = c
	}
	return out
}

// Pending returns the ids still registered, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
