package sequence

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/astrosched/astrosched/internal/config"
	"github.com/astrosched/astrosched/internal/ops"
	"github.com/astrosched/astrosched/internal/scheduler"
)

// Pipeline schedules a configured op chain. Launching it builds the first
// op; every task that completes then spawns the next op in the chain,
// sourced from the task that just finished. A task that fails or is
// cancelled ends its chain.
type Pipeline struct {
	name  string
	steps []config.PipelineStepConfig
	env   ops.Env
	reg   *ops.Registry
	sched *scheduler.Scheduler
	log   zerolog.Logger

	mu    sync.Mutex
	chain map[string]chainEntry // task id -> chain bookkeeping
}

type chainEntry struct {
	pos  int
	task *scheduler.Task
}

// NewPipeline prepares a chain from configuration and installs itself as
// the scheduler's completion hook. The scheduler has a single hook slot,
// so it runs one pipeline at a time.
func NewPipeline(name string, cfg config.PipelineConfig, env ops.Env, reg *ops.Registry, sched *scheduler.Scheduler, log zerolog.Logger) (*Pipeline, error) {
	if reg == nil {
		reg = ops.DefaultRegistry()
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("pipeline %s has no steps", name)
	}
	for i, step := range cfg.Steps {
		if !reg.Has(step.Op) {
			return nil, fmt.Errorf("pipeline %s step %d: unknown op kind: %s", name, i, step.Op)
		}
	}
	p := &Pipeline{
		name:  name,
		steps: cfg.Steps,
		env:   env,
		reg:   reg,
		sched: sched,
		log:   log.With().Str("pipeline", name).Logger(),
		chain: make(map[string]chainEntry),
	}
	sched.SetCompletionHook(p.onCompletion)
	return p, nil
}

// Launch schedules the chain's first op under id with the given params.
// Follow-up ops take no params; they draw their tuning from configuration
// and their input from the task before them.
func (p *Pipeline) Launch(id string, params map[string]any) error {
	return p.spawn(id, 0, params, nil, "")
}

// Steps reports the chain length.
func (p *Pipeline) Steps() int { return len(p.steps) }

// Ops reports the op kind of every task the pipeline has scheduled so far,
// keyed by task id.
func (p *Pipeline) Ops() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.chain))
	for id, e := range p.chain {
		out[id] = p.steps[e.pos].Op
	}
	return out
}

func (p *Pipeline) spawn(id string, pos int, params map[string]any, source *scheduler.Task, depID string) error {
	op := p.steps[pos].Op
	producer, err := p.reg.Build(op, p.env, ops.Step{ID: id, Params: params, Source: source})
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", p.name, err)
	}
	task, err := producer.ProduceTask()
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", p.name, err)
	}

	p.mu.Lock()
	p.chain[id] = chainEntry{pos: pos, task: task}
	p.mu.Unlock()

	if depID == "" {
		p.sched.Schedule(id, task)
	} else {
		p.sched.Schedule(id, task, depID)
	}
	p.log.Debug().Str("task", id).Str("op", op).Msg("pipeline step scheduled")
	return nil
}

// onCompletion runs as the scheduler's completion hook and schedules the
// next op in the chain behind every task of ours that succeeded.
func (p *Pipeline) onCompletion(id string, c scheduler.Completion) {
	p.mu.Lock()
	entry, ok := p.chain[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	if c.State != scheduler.CompletionSucceeded {
		p.log.Debug().Str("task", id).Str("state", c.State.String()).Msg("chain ends")
		return
	}
	next := entry.pos + 1
	if next >= len(p.steps) {
		return
	}
	nextID := fmt.Sprintf("%s-%s", id, p.steps[next].Op)
	if err := p.spawn(nextID, next, nil, entry.task, id); err != nil {
		p.log.Error().Str("task", nextID).Err(err).Msg("could not schedule follow-up")
	}
}
