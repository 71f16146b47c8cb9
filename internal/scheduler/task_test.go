package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestTask_EagerStart verifies the constructor runs the body up to its
// first suspension point before returning.
func TestTask_EagerStart(t *testing.T) {
	started := false
	task := NewTask("eager", func(h *Handle) (any, error) {
		started = true
		if err := h.Progress("warming up"); err != nil {
			return nil, err
		}
		return "done", nil
	})

	if !started {
		t.Fatal("body did not run during construction")
	}
	if got := task.State(); got != StateSuspended {
		t.Errorf("expected state %v after construction, got %v", StateSuspended, got)
	}
	if v, ok := task.Progress(); !ok || v != "warming up" {
		t.Errorf("expected progress 'warming up', got %v (ok=%v)", v, ok)
	}
}

// TestTask_ImmediateCompletion verifies a body with no suspension points
// finishes during construction.
func TestTask_ImmediateCompletion(t *testing.T) {
	task := NewTask("quick", func(h *Handle) (any, error) {
		return "ok", nil
	})

	if got := task.State(); got != StateCompleted {
		t.Fatalf("expected state %v, got %v", StateCompleted, got)
	}
	v, err := task.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected result 'ok', got %v", v)
	}

	select {
	case <-task.Done():
	default:
		t.Error("done channel not closed on completed task")
	}
}

// TestTask_ProgressOverwrites verifies each emission replaces the previous
// progress value and leaves the task without a final result.
func TestTask_ProgressOverwrites(t *testing.T) {
	task := NewTask("stepper", func(h *Handle) (any, error) {
		for i := 1; i <= 3; i++ {
			if err := h.Progress(i); err != nil {
				return nil, err
			}
		}
		return "final", nil
	})

	for want := 1; want <= 3; want++ {
		v, ok := task.Progress()
		if !ok {
			t.Fatalf("step %d: no progress value", want)
		}
		if v != want {
			t.Errorf("step %d: expected progress %d, got %v", want, want, v)
		}
		if _, err := task.Result(); !errors.Is(err, ErrTaskPending) {
			t.Errorf("step %d: expected ErrTaskPending, got %v", want, err)
		}
		task.Resume()
	}

	if got := task.State(); got != StateCompleted {
		t.Fatalf("expected completion after three resumes, got %v", got)
	}
	if _, ok := task.Progress(); ok {
		t.Error("progress value survived completion; the slot should hold only the final value")
	}
	if v, err := task.Result(); err != nil || v != "final" {
		t.Errorf("expected result 'final', got %v (err=%v)", v, err)
	}
}

// TestTask_Failure verifies an error return lands in StateFailed with the
// error readable from the slot.
func TestTask_Failure(t *testing.T) {
	boom := errors.New("sensor offline")
	task := NewTask("broken", func(h *Handle) (any, error) {
		return nil, boom
	})

	if got := task.State(); got != StateFailed {
		t.Fatalf("expected state %v, got %v", StateFailed, got)
	}
	if _, err := task.Result(); !errors.Is(err, boom) {
		t.Errorf("expected sensor error, got %v", err)
	}
}

// TestTask_ResumeAfterTerminalIsNoOp verifies terminal tasks ignore further
// resumes and keep their result.
func TestTask_ResumeAfterTerminalIsNoOp(t *testing.T) {
	task := NewTask("done-already", func(h *Handle) (any, error) {
		return 42, nil
	})

	for i := 0; i < 3; i++ {
		task.Resume()
	}

	if got := task.State(); got != StateCompleted {
		t.Errorf("state changed after terminal resume: %v", got)
	}
	if v, err := task.Result(); err != nil || v != 42 {
		t.Errorf("result changed after terminal resume: %v (err=%v)", v, err)
	}
}

// TestTask_PanicBecomesFailure verifies a panicking body is captured as a
// task failure instead of crashing the process.
func TestTask_PanicBecomesFailure(t *testing.T) {
	task := NewTask("panicky", func(h *Handle) (any, error) {
		panic("shutter jammed")
	})

	if got := task.State(); got != StateFailed {
		t.Fatalf("expected state %v, got %v", StateFailed, got)
	}
	_, err := task.Result()
	if !errors.Is(err, ErrTaskPanicked) {
		t.Fatalf("expected ErrTaskPanicked, got %v", err)
	}
	if want := "shutter jammed"; err == nil || !strings.Contains(err.Error(), want) {
		t.Errorf("expected panic message %q in error, got %v", want, err)
	}
}

// TestTask_Cancel verifies cancellation wakes a parked body, delivers the
// cause through the suspension call, and lands in StateCancelled.
func TestTask_Cancel(t *testing.T) {
	var seen error
	task := NewTask("cancellable", func(h *Handle) (any, error) {
		if err := h.Progress("step 1"); err != nil {
			seen = err
			return nil, err
		}
		return "unreachable", nil
	})

	cause := errors.New("operator abort")
	task.Cancel(cause)

	if got := task.State(); got != StateCancelled {
		t.Fatalf("expected state %v, got %v", StateCancelled, got)
	}
	if seen == nil {
		t.Fatal("body never observed the cancellation cause")
	}
	if !errors.Is(seen, ErrTaskCancelled) {
		t.Errorf("expected cause to match ErrTaskCancelled, got %v", seen)
	}
	if _, err := task.Result(); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("expected cancelled result, got %v", err)
	}

	// Further driving must change nothing.
	task.Resume()
	task.Cancel(nil)
	if got := task.State(); got != StateCancelled {
		t.Errorf("state changed after terminal cancel: %v", got)
	}
}

// TestTask_CancelSwallowedByBody verifies a body that ignores the delivered
// cause and completes anyway is recorded truthfully as completed.
func TestTask_CancelSwallowedByBody(t *testing.T) {
	task := NewTask("stubborn", func(h *Handle) (any, error) {
		_ = h.Progress("ignoring trouble")
		return "finished regardless", nil
	})

	task.Cancel(errors.New("please stop"))

	if got := task.State(); got != StateCompleted {
		t.Fatalf("expected state %v, got %v", StateCompleted, got)
	}
	if v, err := task.Result(); err != nil || v != "finished regardless" {
		t.Errorf("expected the body's value, got %v (err=%v)", v, err)
	}
}

// TestTask_AwaitTerminalTarget verifies awaiting an already-finished task
// returns its outcome without suspending.
func TestTask_AwaitTerminalTarget(t *testing.T) {
	target := NewTask("finished", func(h *Handle) (any, error) {
		return 7, nil
	})

	task := NewTask("reader", func(h *Handle) (any, error) {
		v, err := h.Await(target)
		if err != nil {
			return nil, err
		}
		return v.(int) * 2, nil
	})

	if got := task.State(); got != StateCompleted {
		t.Fatalf("expected immediate completion, got %v", got)
	}
	if v, err := task.Result(); err != nil || v != 14 {
		t.Errorf("expected 14, got %v (err=%v)", v, err)
	}
}

// TestTask_AwaitSuspendsUntilTargetFinishes verifies the awaiting task
// parks while the target runs and picks up its value afterwards.
func TestTask_AwaitSuspendsUntilTargetFinishes(t *testing.T) {
	target := NewTask("slow", func(h *Handle) (any, error) {
		if err := h.Progress("half"); err != nil {
			return nil, err
		}
		return "target-value", nil
	})

	waiter := NewTask("waiter", func(h *Handle) (any, error) {
		v, err := h.Await(target)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("got %v", v), nil
	})

	if got := waiter.State(); got != StateSuspended {
		t.Fatalf("waiter should be parked while target runs, got %v", got)
	}
	if waiter.awaitTarget() != target {
		t.Fatal("waiter does not report its await target")
	}

	// Resuming the waiter before the target finished must re-park it.
	waiter.Resume()
	if got := waiter.State(); got != StateSuspended {
		t.Fatalf("waiter advanced before target finished: %v", got)
	}

	target.Resume()
	if got := target.State(); got != StateCompleted {
		t.Fatalf("target did not finish: %v", got)
	}

	waiter.Resume()
	if got := waiter.State(); got != StateCompleted {
		t.Fatalf("waiter did not finish after target: %v", got)
	}
	if v, err := waiter.Result(); err != nil || v != "got target-value" {
		t.Errorf("expected 'got target-value', got %v (err=%v)", v, err)
	}
	if waiter.awaitTarget() != nil {
		t.Error("await target not cleared after completion")
	}
}

// TestTask_AwaitFailedTarget verifies the awaited task's error is returned
// to the awaiting body for it to propagate or replace.
func TestTask_AwaitFailedTarget(t *testing.T) {
	targetErr := errors.New("focus never converged")
	target := NewTask("failing", func(h *Handle) (any, error) {
		return nil, targetErr
	})

	propagator := NewTask("propagator", func(h *Handle) (any, error) {
		return h.Await(target)
	})
	if got := propagator.State(); got != StateFailed {
		t.Fatalf("expected propagated failure, got %v", got)
	}
	if _, err := propagator.Result(); !errors.Is(err, targetErr) {
		t.Errorf("expected target error, got %v", err)
	}

	substituter := NewTask("substituter", func(h *Handle) (any, error) {
		if _, err := h.Await(target); err != nil {
			return "fallback", nil
		}
		return "unexpected", nil
	})
	if v, err := substituter.Result(); err != nil || v != "fallback" {
		t.Errorf("expected 'fallback', got %v (err=%v)", v, err)
	}
}

// TestTask_AwaitSelf verifies a task cannot wait on itself.
func TestTask_AwaitSelf(t *testing.T) {
	var task *Task
	task = NewTask("narcissist", func(h *Handle) (any, error) {
		if err := h.Progress("about to await"); err != nil {
			return nil, err
		}
		return h.Await(task)
	})

	task.Resume()

	if got := task.State(); got != StateFailed {
		t.Fatalf("expected failure, got %v", got)
	}
	if _, err := task.Result(); err == nil || !strings.Contains(err.Error(), "await itself") {
		t.Errorf("expected self-await error, got %v", err)
	}
}

// TestTask_SingleSlot verifies the result slot never holds more than one
// variant at a time across the whole lifecycle.
func TestTask_SingleSlot(t *testing.T) {
	task := NewTask("slotted", func(h *Handle) (any, error) {
		if err := h.Progress("partial"); err != nil {
			return nil, err
		}
		return "whole", nil
	})

	// Suspended: progress populated, result pending.
	if _, ok := task.Progress(); !ok {
		t.Error("expected a progress value while suspended")
	}
	if _, err := task.Result(); !errors.Is(err, ErrTaskPending) {
		t.Errorf("expected ErrTaskPending while suspended, got %v", err)
	}

	task.Resume()

	// Completed: final populated, progress gone.
	if _, ok := task.Progress(); ok {
		t.Error("progress value coexists with the final value")
	}
	if v, err := task.Result(); err != nil || v != "whole" {
		t.Errorf("expected final value, got %v (err=%v)", v, err)
	}
}
