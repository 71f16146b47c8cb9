package ops

import (
	"fmt"

	"github.com/astrosched/astrosched/internal/device"
	"github.com/astrosched/astrosched/internal/scheduler"
)

// FocusOp moves the focuser to a position, optionally waiting for another
// task (usually the slew) to finish first.
type FocusOp struct {
	Env      Env
	Name     string
	Focuser  string
	Position float64
	After    *scheduler.Task // awaited before moving, may be nil
}

// ProduceTask builds and starts the focus task.
func (o *FocusOp) ProduceTask() (*scheduler.Task, error) {
	if o.Env.Exec == nil {
		return nil, fmt.Errorf("focus %s: no device executor", o.Name)
	}
	return scheduler.NewTask(o.Name, o.run), nil
}

func (o *FocusOp) run(h *scheduler.Handle) (any, error) {
	if o.After != nil {
		if _, err := h.Await(o.After); err != nil {
			return nil, fmt.Errorf("focus %s: waiting for %s: %w", o.Name, o.After.Name(), err)
		}
	}

	if o.Position < 0 {
		return nil, fmt.Errorf("focus %s: position %v must be non-negative", o.Name, o.Position)
	}

	pending := o.Env.Exec.Submit(o.Env.context(), o.Focuser, device.Command{
		Action: "move_focus",
		Params: map[string]float64{"position": o.Position},
	})

	reading, err := awaitPending(h, pending, Report{Stage: "focusing"})
	if err != nil {
		return nil, fmt.Errorf("focus %s: %w", o.Name, err)
	}

	result := FocusResult{
		Position: reading.Value("position"),
		HFR:      reading.Value("hfr"),
	}

	o.Env.Log.Info().
		Str("op", o.Name).
		Float64("position", result.Position).
		Float64("hfr", result.HFR).
		Msg("focus complete")

	return result, nil
}
