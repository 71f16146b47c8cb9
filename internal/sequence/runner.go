// Package sequence executes observation plans. A Runner turns a validated
// plan into scheduled op tasks, drives them through the scheduler, and
// records the run in the journal and the frame store. A Pipeline chains
// configured follow-up ops onto tasks as they complete.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// ErrRunDeclined is returned by Run when the operator rejects the
// pre-flight confirmation.
var ErrRunDeclined = errors.New("run declined by operator")

// RunnerConfig wires the runner's collaborators. Exec is required; leaving
// Frames, Journal, Bus or Confirm nil disables that integration.
type RunnerConfig struct {
	Registry *ops.Registry             // op builders, DefaultRegistry when nil
	Exec     *device.Executor          // device command executor
	Settings *config.Config            // tunables handed to ops, defaults when nil
	Frames   *framestore.Store         // capture sessions
	Journal  journal.Store             // run records
	Bus      *events.Bus               // lifecycle events
	Confirm  *Prompt                   // operator pre-flight confirmation
	Policy   framestore.FinalizePolicy // session finalization, KeepAccepted when zero
	Interval time.Duration             // scheduler poll interval, Settings value when zero
	Log      zerolog.Logger
}

// Runner executes one plan at a time.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a runner, filling in default registry and settings.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Registry == nil {
		cfg.Registry = ops.DefaultRegistry()
	}
	if cfg.Settings == nil {
		cfg.Settings = config.DefaultConfig()
	}
	return &Runner{cfg: cfg}
}

// Report summarizes a finished run. Individual task failures are recorded
// here rather than returned as errors from Run.
type Report struct {
	RunID     string
	Plan      string
	Outcomes  map[string]scheduler.Completion
	Succeeded int
	Failed    int
	Cancelled int
	Archive   *framestore.ArchiveResult // nil when no frame store was wired
	Duration  time.Duration
}

// Line renders the one-line summary stored as the run's journal report.
func (rep *Report) Line() string {
	return fmt.Sprintf("%d tasks: %d succeeded, %d failed, %d cancelled",
		len(rep.Outcomes), rep.Succeeded, rep.Failed, rep.Cancelled)
}

// Run executes the plan and reports how every task ended. The returned
// error covers run-level problems: an invalid plan, a declined
// confirmation, a stalled scheduler, or a cancelled context. Tasks that
// fail on their own settle in the report and do not abort the run.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*Report, error) {
	started := time.Now()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	order, err := p.Order()
	if err != nil {
		return nil, err
	}
	fingerprint, err := p.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprinting plan %s: %w", p.Name, err)
	}

	runID := journal.NewRunID()
	log := r.cfg.Log.With().Str("run", runID).Str("plan", p.Name).Logger()

	if r.cfg.Confirm != nil {
		msg := fmt.Sprintf("run plan %q (%d steps)?", p.Name, len(p.Steps))
		approved, err := r.cfg.Confirm.Confirm(ctx, runID, msg)
		if err != nil {
			return nil, fmt.Errorf("confirming run: %w", err)
		}
		if !approved {
			log.Info().Msg("run declined")
			return nil, ErrRunDeclined
		}
	}

	if r.cfg.Journal != nil {
		run := &journal.Run{ID: runID, Plan: p.Name, Fingerprint: fingerprint}
		if err := r.cfg.Journal.BeginRun(ctx, run); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}

	var session *framestore.Session
	if r.cfg.Frames != nil {
		session, err = r.cfg.Frames.Begin(runID)
		if err != nil {
			r.finishJournal(runID, journal.RunFailed, "capture session could not begin", log)
			return nil, fmt.Errorf("beginning capture session: %w", err)
		}
	}

	env := ops.Env{Ctx: ctx, Exec: r.cfg.Exec, Config: r.cfg.Settings, Session: session, Log: log}

	// Build the tasks in dependency order so each step can hand the task
	// of its first need to ops that consume an upstream value. Building is
	// eager: a task starts working the moment it exists.
	tasks := make(map[string]*scheduler.Task, len(order))
	deps := make(map[string][]string, len(order))
	kinds := make(map[string]string, len(order))
	for _, id := range order {
		step, _ := p.Step(id)
		opStep := ops.Step{ID: id, Params: step.Params}
		if len(step.Needs) > 0 {
			opStep.Source = tasks[step.Needs[0]]
		}
		producer, err := r.cfg.Registry.Build(step.Op, env, opStep)
		if err != nil {
			r.abandon(tasks, session, runID, log)
			return nil, fmt.Errorf("step %s: %w", id, err)
		}
		task, err := producer.ProduceTask()
		if err != nil {
			r.abandon(tasks, session, runID, log)
			return nil, fmt.Errorf("step %s: %w", id, err)
		}
		task.SetPolicy(step.Policy())
		tasks[id] = task
		deps[id] = step.Needs
		kinds[id] = step.Op
	}

	// Every task appears in the journal as pending before the first scan.
	if r.cfg.Journal != nil {
		for _, id := range order {
			rec := &journal.TaskRecord{
				RunID: runID, TaskID: id, Name: tasks[id].Name(), Op: kinds[id],
				State: "pending", DependsOn: deps[id],
			}
			if err := r.cfg.Journal.SaveTaskRun(ctx, rec); err != nil {
				log.Warn().Str("task", id).Err(err).Msg("could not record task")
			}
		}
	}

	sched := scheduler.New(log)
	if r.cfg.Interval > 0 {
		sched.SetPollInterval(r.cfg.Interval)
	} else {
		sched.SetPollInterval(r.cfg.Settings.PollInterval())
	}
	if r.cfg.Bus != nil {
		sched.SetBus(r.cfg.Bus)
	}
	if r.cfg.Journal != nil {
		// Journal writes during and after shutdown use a background
		// context: terminal task states must land even when the run's
		// context is already cancelled.
		sched.SetCompletionHook(func(id string, c scheduler.Completion) {
			rec := &journal.TaskRecord{
				RunID: runID, TaskID: id, Name: tasks[id].Name(), Op: kinds[id],
				State: c.State.String(), Value: renderValue(c.Value), DependsOn: deps[id],
			}
			if c.Err != nil {
				rec.Error = c.Err.Error()
			}
			if err := r.cfg.Journal.SaveTaskRun(context.Background(), rec); err != nil {
				log.Warn().Str("task", id).Err(err).Msg("could not record task outcome")
			}
		})
		sched.SetProgressHook(func(id string, v any) {
			stage, detail := renderProgress(v)
			if err := r.cfg.Journal.RecordProgress(context.Background(), runID, id, stage, detail); err != nil {
				log.Warn().Str("task", id).Err(err).Msg("could not record progress")
			}
		})
	}

	for _, id := range order {
		sched.Schedule(id, tasks[id], deps[id]...)
	}

	r.publish(events.SequenceStarted{RunID: runID, Plan: p.Name, Tasks: len(order), At: time.Now()})
	log.Info().Int("tasks", len(order)).Msg("sequence started")

	runErr := sched.Run(ctx)

	rep := &Report{
		RunID:    runID,
		Plan:     p.Name,
		Outcomes: make(map[string]scheduler.Completion, len(order)),
	}
	for _, id := range order {
		c, ok := sched.Outcome(id)
		if !ok {
			continue
		}
		rep.Outcomes[id] = c
		switch c.State {
		case scheduler.CompletionSucceeded:
			rep.Succeeded++
		case scheduler.CompletionFailed:
			rep.Failed++
		case scheduler.CompletionCancelled:
			rep.Cancelled++
		}
	}
	rep.Duration = time.Since(started)

	if session != nil {
		archive, err := r.cfg.Frames.Finalize(session, r.cfg.Policy)
		if err != nil {
			log.Warn().Err(err).Msg("could not finalize capture session")
		} else {
			rep.Archive = archive
		}
	}

	status := journal.RunCompleted
	switch {
	case ctx.Err() != nil:
		status = journal.RunAborted
	case runErr != nil || rep.Failed > 0 || rep.Cancelled > 0:
		status = journal.RunFailed
	}
	r.finishJournal(runID, status, rep.Line(), log)

	r.publish(events.SequenceFinished{
		RunID: runID, Plan: p.Name,
		Succeeded: rep.Succeeded, Failed: rep.Failed, Cancelled: rep.Cancelled,
		Err: runErr, At: time.Now(),
	})
	log.Info().
		Str("status", status).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Int("cancelled", rep.Cancelled).
		Dur("duration", rep.Duration).
		Msg("sequence finished")

	return rep, runErr
}

// abandon unwinds a run that failed while building its tasks: everything
// built so far is cancelled, the capture session discarded, the journal
// record closed out.
func (r *Runner) abandon(tasks map[string]*scheduler.Task, session *framestore.Session, runID string, log zerolog.Logger) {
	for _, t := range tasks {
		t.Cancel(nil)
	}
	if session != nil {
		if err := r.cfg.Frames.Discard(session); err != nil {
			log.Warn().Err(err).Msg("could not discard capture session")
		}
	}
	r.finishJournal(runID, journal.RunFailed, "plan could not be built", log)
}

func (r *Runner) finishJournal(runID, status, report string, log zerolog.Logger) {
	if r.cfg.Journal == nil {
		return
	}
	if err := r.cfg.Journal.FinishRun(context.Background(), runID, status, report); err != nil {
		log.Warn().Err(err).Msg("could not finish run record")
	}
}

func (r *Runner) publish(ev events.Event) {
	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(ev)
	}
}

// renderValue flattens a task's final value for the journal. The op result
// types all carry Stringers.
func renderValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// renderProgress splits a progress value into the journal's stage and
// detail columns.
func renderProgress(v any) (stage, detail string) {
	rep, ok := v.(ops.Report)
	if !ok {
		return "working", fmt.Sprintf("%v", v)
	}
	var parts []string
	if rep.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt %d", rep.Attempt))
	}
	if rep.Quality > 0 {
		parts = append(parts, fmt.Sprintf("quality %.2f", rep.Quality))
	}
	if rep.Seconds > 0 {
		parts = append(parts, fmt.Sprintf("%.2fs", rep.Seconds))
	}
	return rep.Stage, strings.Join(parts, " ")
}
