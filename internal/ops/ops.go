// Package ops implements the observation operations the sequencer
// schedules: capturing exposures, slewing the mount, focusing, grading
// frames, and archiving them. Each operation produces a resumable task;
// device commands run on the executor while the task parks between
// scheduler polls.
package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/astrosched/astrosched/internal/config"
	"github.com/astrosched/astrosched/internal/device"
	"github.com/astrosched/astrosched/internal/framestore"
	"github.com/astrosched/astrosched/internal/scheduler"
)

// Env carries the collaborators shared by every operation.
type Env struct {
	Ctx     context.Context     // bounds device commands issued by ops
	Exec    *device.Executor    // device command executor
	Config  *config.Config      // tunables: exposure bounds, thresholds, attempts
	Session *framestore.Session // capture directory for the current run, may be nil
	Log     zerolog.Logger
}

func (e Env) context() context.Context {
	if e.Ctx != nil {
		return e.Ctx
	}
	return context.Background()
}

func (e Env) exposure() config.ExposureConfig {
	if e.Config != nil {
		return e.Config.Exposure
	}
	return config.DefaultConfig().Exposure
}

// Report is the progress value ops leave in the task slot while working.
type Report struct {
	Stage   string  // "exposing", "slewing", "focusing", "retrying"
	Attempt int     // retry attempt for staged ops, 0 otherwise
	Quality float64 // last measured quality, when known
	Seconds float64 // current exposure duration, when relevant
}

func (r Report) String() string {
	parts := []string{r.Stage}
	if r.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt %d", r.Attempt))
	}
	if r.Quality > 0 {
		parts = append(parts, fmt.Sprintf("quality %.2f", r.Quality))
	}
	if r.Seconds > 0 {
		parts = append(parts, fmt.Sprintf("%.2fs", r.Seconds))
	}
	return strings.Join(parts, " ")
}

// Frame is the value produced by a completed exposure.
type Frame struct {
	Target   string
	Device   string
	Seconds  float64
	Quality  float64
	Attempt  int
	Path     string // metadata file path once archived, empty before
	Captured time.Time
}

func (f Frame) String() string {
	return fmt.Sprintf("frame %s attempt %d quality %.2f", f.Target, f.Attempt, f.Quality)
}

// Pointing is the value produced by a completed slew.
type Pointing struct {
	RA  float64
	Dec float64
}

func (p Pointing) String() string {
	return fmt.Sprintf("pointing ra %.2f dec %.2f", p.RA, p.Dec)
}

// FocusResult is the value produced by a completed focus move.
type FocusResult struct {
	Position float64
	HFR      float64
}

func (f FocusResult) String() string {
	return fmt.Sprintf("focused at %.0f hfr %.2f", f.Position, f.HFR)
}

// Verdict is the value produced by grading a frame.
type Verdict struct {
	Frame    Frame
	Score    float64
	Accepted bool
}

func (v Verdict) String() string {
	return fmt.Sprintf("graded %s score %.2f", v.Frame.Target, v.Score)
}

// ArchiveReceipt is the value produced by archiving a frame.
type ArchiveReceipt struct {
	Path        string
	Fingerprint uint64
	Frame       Frame
}

func (a ArchiveReceipt) String() string {
	return fmt.Sprintf("archived %s fingerprint %d", a.Path, a.Fingerprint)
}

// awaitPending parks the task between scheduler polls until the device
// command finishes, leaving the report in the progress slot on every
// resume. Returns the cancellation cause if the task is cancelled while
// the command is in flight.
func awaitPending(h *scheduler.Handle, p *device.Pending, rep Report) (device.Reading, error) {
	for !p.Ready() {
		if err := h.Progress(rep); err != nil {
			return device.Reading{}, err
		}
	}
	return p.Outcome()
}

// slugify turns a display name into a file-safe fragment. Runs of
// unsupported characters collapse into a single dash.
func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			if out := b.String(); out != "" && !strings.HasSuffix(out, "-") {
				b.WriteByte('-')
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Step is the op-kind-independent description handed to builders. Source
// is the task of the step's first dependency, nil for roots.
type Step struct {
	ID     string
	Params map[string]any
	Source *scheduler.Task
}

// Builder constructs the operation for one plan step.
type Builder func(env Env, step Step) (scheduler.TaskProducer, error)

// Registry maps op kind names to builders.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder for an op kind, replacing any existing one.
func (r *Registry) Register(kind string, b Builder) {
	r.builders[kind] = b
}

// Kinds returns the registered op kind names.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.builders))
	for kind := range r.builders {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Has reports whether an op kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.builders[kind]
	return ok
}

// Build constructs the producer for a step of the given kind.
func (r *Registry) Build(kind string, env Env, step Step) (scheduler.TaskProducer, error) {
	b, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown op kind: %s", kind)
	}
	return b(env, step)
}

// DefaultRegistry returns a registry with every built-in op.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("exposure", func(env Env, step Step) (scheduler.TaskProducer, error) {
		return &ExposureOp{
			Env:     env,
			Name:    step.ID,
			Camera:  paramString(step.Params, "camera", "camera"),
			Target:  paramString(step.Params, "target", ""),
			Seconds: paramFloat(step.Params, "seconds", 1.0),
		}, nil
	})

	r.Register("slew", func(env Env, step Step) (scheduler.TaskProducer, error) {
		return &SlewOp{
			Env:   env,
			Name:  step.ID,
			Mount: paramString(step.Params, "mount", "mount"),
			RA:    paramFloat(step.Params, "ra", 0),
			Dec:   paramFloat(step.Params, "dec", 0),
		}, nil
	})

	r.Register("focus", func(env Env, step Step) (scheduler.TaskProducer, error) {
		return &FocusOp{
			Env:      env,
			Name:     step.ID,
			Focuser:  paramString(step.Params, "focuser", "focuser"),
			Position: paramFloat(step.Params, "position", 5000),
			After:    step.Source,
		}, nil
	})

	r.Register("grade", func(env Env, step Step) (scheduler.TaskProducer, error) {
		return &GradeOp{
			Env:       env,
			Name:      step.ID,
			Source:    step.Source,
			Threshold: paramFloat(step.Params, "threshold", 0),
		}, nil
	})

	r.Register("archive", func(env Env, step Step) (scheduler.TaskProducer, error) {
		return &ArchiveOp{
			Env:    env,
			Name:   step.ID,
			Source: step.Source,
		}, nil
	})

	return r
}

// paramFloat reads a numeric parameter, accepting the types YAML decodes
// numbers into.
func paramFloat(params map[string]any, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}

// paramString reads a string parameter.
func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}
