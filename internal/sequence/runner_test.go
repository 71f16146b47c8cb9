package sequence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/astrosched/astrosched/internal/config"
	"github.com/astrosched/astrosched/internal/device"
	"github.com/astrosched/astrosched/internal/events"
	"github.com/astrosched/astrosched/internal/framestore"
	"github.com/astrosched/astrosched/internal/journal"
	"github.com/astrosched/astrosched/internal/ops"
	"github.com/astrosched/astrosched/internal/plan"
	"github.com/astrosched/astrosched/internal/scheduler"
)

// newTestExec builds an executor over the given drivers with fast retries.
func newTestExec(t *testing.T, drivers ...device.Driver) *device.Executor {
	t.Helper()

	retry := device.RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      100 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
	exec := device.NewExecutor(2, retry, device.NewBreakerRegistry(config.BreakerConfig{}, zerolog.Nop()), zerolog.Nop())
	for _, d := range drivers {
		exec.RegisterDriver(d)
	}
	return exec
}

// simRig returns a runner config over simulated devices, a throwaway frame
// store and an in-memory journal.
func simRig(t *testing.T) RunnerConfig {
	t.Helper()

	store, err := journal.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// The camera latency forces the exposure op to park at least once, so
	// progress reaches the journal.
	exec := newTestExec(t,
		device.NewSimCamera("camera", map[string]float64{"latency_ms": 10}),
		device.NewSimMount("mount", nil),
		device.NewSimFocuser("focuser", nil),
	)

	return RunnerConfig{
		Exec:     exec,
		Settings: config.DefaultConfig(),
		Frames:   framestore.NewStore(t.TempDir()),
		Journal:  store,
		Interval: time.Millisecond,
		Log:      zerolog.Nop(),
	}
}

// capturePlan points, captures one frame of M42, grades it and archives it.
// A 4s simulated exposure lands at quality 0.8, above the 0.7 default
// threshold.
func capturePlan() *plan.Plan {
	return &plan.Plan{
		Name: "orion",
		Steps: []plan.Step{
			{ID: "point", Op: "slew", Params: map[string]any{"ra": 83.82, "dec": -5.39}},
			{ID: "capture", Op: "exposure", Params: map[string]any{"target": "M42", "seconds": 4.0}, Needs: []string{"point"}},
			{ID: "grade", Op: "grade", Needs: []string{"capture"}},
			{ID: "archive", Op: "archive", Needs: []string{"grade"}},
		},
	}
}

func TestRunner_ExecutesPlan(t *testing.T) {
	cfg := simRig(t)
	bus := events.NewBus()
	defer bus.Close()
	seqCh := bus.Subscribe(events.TopicSequence, 8)
	cfg.Bus = bus

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rep, err := NewRunner(cfg).Run(ctx, capturePlan())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.Succeeded != 4 || rep.Failed != 0 || rep.Cancelled != 0 {
		t.Fatalf("report = %d succeeded, %d failed, %d cancelled, want 4/0/0",
			rep.Succeeded, rep.Failed, rep.Cancelled)
	}
	c := rep.Outcomes["archive"]
	if c.State != scheduler.CompletionSucceeded {
		t.Fatalf("archive outcome = %v, want succeeded", c.State)
	}
	if _, ok := c.Value.(ops.ArchiveReceipt); !ok {
		t.Errorf("archive value = %T, want ops.ArchiveReceipt", c.Value)
	}
	if rep.Archive == nil || len(rep.Archive.Archived) != 1 || rep.Archive.Dropped != 0 {
		t.Errorf("archive result = %+v, want 1 archived frame", rep.Archive)
	}

	// The journal holds the run, every task outcome, and capture progress.
	run, err := cfg.Journal.GetRun(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != journal.RunCompleted {
		t.Errorf("run status = %s, want %s", run.Status, journal.RunCompleted)
	}
	if run.Report != "4 tasks: 4 succeeded, 0 failed, 0 cancelled" {
		t.Errorf("run report = %q", run.Report)
	}
	if run.FinishedAt.IsZero() {
		t.Error("run has no finish time")
	}

	recs, err := cfg.Journal.TaskRuns(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("TaskRuns failed: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d task records, want 4", len(recs))
	}
	byID := make(map[string]*journal.TaskRecord, len(recs))
	for _, rec := range recs {
		byID[rec.TaskID] = rec
		if rec.State != "succeeded" {
			t.Errorf("task %s state = %s, want succeeded", rec.TaskID, rec.State)
		}
	}
	if got := byID["archive"].DependsOn; len(got) != 1 || got[0] != "grade" {
		t.Errorf("archive deps = %v, want [grade]", got)
	}
	if !strings.Contains(byID["capture"].Value, "M42") {
		t.Errorf("capture value = %q, want the target in it", byID["capture"].Value)
	}

	hist, err := cfg.Journal.History(ctx, rep.RunID, "capture")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) == 0 {
		t.Fatal("no progress recorded for capture")
	}
	if hist[0].Stage != "exposing" {
		t.Errorf("first progress stage = %q, want exposing", hist[0].Stage)
	}

	// Lifecycle events were published in order.
	var kinds []string
	for {
		select {
		case ev := <-seqCh:
			kinds = append(kinds, ev.Kind())
			continue
		default:
		}
		break
	}
	if len(kinds) != 2 || kinds[0] != events.KindSequenceStarted || kinds[1] != events.KindSequenceFinished {
		t.Errorf("sequence events = %v, want [started finished]", kinds)
	}
}

func TestRunner_DeclinedRunTouchesNothing(t *testing.T) {
	cfg := simRig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	prompt := NewPrompt(1, func(ctx context.Context, runID, message string) (bool, error) {
		return false, nil
	})
	prompt.Start(ctx)
	defer prompt.Stop()
	defer cancel()
	cfg.Confirm = prompt

	rep, err := NewRunner(cfg).Run(ctx, capturePlan())
	if !errors.Is(err, ErrRunDeclined) {
		t.Fatalf("err = %v, want ErrRunDeclined", err)
	}
	if rep != nil {
		t.Errorf("report = %+v, want nil", rep)
	}

	runs, err := cfg.Journal.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("journal has %d runs, want none", len(runs))
	}
	sessions, err := cfg.Frames.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("frame store has %d sessions, want none", len(sessions))
	}
}

func TestRunner_TaskFailureMarksRunFailed(t *testing.T) {
	cfg := simRig(t)

	// The capture lands at 0.8; a grade threshold of 0.95 rejects it, and
	// the archive step's default policy cancels it behind the failure.
	p := &plan.Plan{
		Name: "strict",
		Steps: []plan.Step{
			{ID: "capture", Op: "exposure", Params: map[string]any{"target": "M42", "seconds": 4.0}},
			{ID: "grade", Op: "grade", Params: map[string]any{"threshold": 0.95}, Needs: []string{"capture"}},
			{ID: "archive", Op: "archive", Needs: []string{"grade"}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rep, err := NewRunner(cfg).Run(ctx, p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Succeeded != 1 || rep.Failed != 1 || rep.Cancelled != 1 {
		t.Fatalf("report = %d succeeded, %d failed, %d cancelled, want 1/1/1",
			rep.Succeeded, rep.Failed, rep.Cancelled)
	}

	run, err := cfg.Journal.GetRun(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != journal.RunFailed {
		t.Errorf("run status = %s, want %s", run.Status, journal.RunFailed)
	}

	recs, err := cfg.Journal.TaskRuns(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("TaskRuns failed: %v", err)
	}
	byID := make(map[string]*journal.TaskRecord, len(recs))
	for _, rec := range recs {
		byID[rec.TaskID] = rec
	}
	if byID["grade"].State != "failed" || !strings.Contains(byID["grade"].Error, "below threshold") {
		t.Errorf("grade record = %s %q", byID["grade"].State, byID["grade"].Error)
	}
	if byID["archive"].State != "cancelled" {
		t.Errorf("archive state = %s, want cancelled", byID["archive"].State)
	}
}

// stuckCamera blocks every command until the context is cancelled.
type stuckCamera struct{}

func (c *stuckCamera) Send(ctx context.Context, cmd device.Command) (device.Reading, error) {
	<-ctx.Done()
	return device.Reading{}, ctx.Err()
}
func (c *stuckCamera) Close() error { return nil }
func (c *stuckCamera) Name() string { return "camera" }

func TestRunner_AbortedRunIsJournaledAborted(t *testing.T) {
	cfg := simRig(t)
	cfg.Exec = newTestExec(t, &stuckCamera{})

	p := &plan.Plan{
		Name: "stuck",
		Steps: []plan.Step{
			{ID: "capture", Op: "exposure", Params: map[string]any{"target": "M42", "seconds": 4.0}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	rep, err := NewRunner(cfg).Run(ctx, p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if rep.Cancelled != 1 {
		t.Errorf("report cancelled = %d, want 1", rep.Cancelled)
	}

	run, err := cfg.Journal.GetRun(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != journal.RunAborted {
		t.Errorf("run status = %s, want %s", run.Status, journal.RunAborted)
	}
	if run.FinishedAt.IsZero() {
		t.Error("aborted run has no finish time")
	}
}

func TestRunner_BuildFailureAbandonsRun(t *testing.T) {
	cfg := simRig(t)

	p := &plan.Plan{
		Name:  "bad",
		Steps: []plan.Step{{ID: "jump", Op: "warp"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep, err := NewRunner(cfg).Run(ctx, p)
	if err == nil || !strings.Contains(err.Error(), "unknown op kind") {
		t.Fatalf("err = %v, want unknown op kind", err)
	}
	if rep != nil {
		t.Errorf("report = %+v, want nil", rep)
	}

	runs, err := cfg.Journal.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("journal has %d runs, want 1", len(runs))
	}
	if runs[0].Status != journal.RunFailed || runs[0].Report != "plan could not be built" {
		t.Errorf("run = %s %q", runs[0].Status, runs[0].Report)
	}

	sessions, err := cfg.Frames.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("frame store has %d sessions, want the session discarded", len(sessions))
	}
}

func TestRunner_InvalidPlanRejected(t *testing.T) {
	cfg := simRig(t)

	p := &plan.Plan{
		Name:  "twisted",
		Steps: []plan.Step{{ID: "a", Op: "slew", Needs: []string{"a"}}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := NewRunner(cfg).Run(ctx, p); err == nil || !strings.Contains(err.Error(), "needs itself") {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestRenderValue(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"frame", ops.Frame{Target: "M42", Attempt: 2, Quality: 0.83}, "frame M42 attempt 2 quality 0.83"},
		{"verdict", ops.Verdict{Frame: ops.Frame{Target: "M42"}, Score: 0.83}, "graded M42 score 0.83"},
		{"pointing", ops.Pointing{RA: 83.82, Dec: -5.39}, "pointing ra 83.82 dec -5.39"},
		{"focus", ops.FocusResult{Position: 5000, HFR: 1.8}, "focused at 5000 hfr 1.80"},
		{"fallback", 42, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderValue(tc.value); got != tc.want {
				t.Errorf("renderValue(%v) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}
