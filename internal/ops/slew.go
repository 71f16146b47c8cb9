package ops

import (
	"fmt"

	"github.com/astrosched/astrosched/internal/device"
	"github.com/astrosched/astrosched/internal/scheduler"
)

// SlewOp points the mount at a target.
type SlewOp struct {
	Env   Env
	Name  string
	Mount string
	RA    float64 // right ascension, degrees [0, 360)
	Dec   float64 // declination, degrees [-90, 90]
}

// ProduceTask builds and starts the slew task.
func (o *SlewOp) ProduceTask() (*scheduler.Task, error) {
	if o.Env.Exec == nil {
		return nil, fmt.Errorf("slew %s: no device executor", o.Name)
	}
	return scheduler.NewTask(o.Name, o.run), nil
}

func (o *SlewOp) run(h *scheduler.Handle) (any, error) {
	if o.RA < 0 || o.RA >= 360 {
		return nil, fmt.Errorf("slew %s: RA %v outside [0, 360)", o.Name, o.RA)
	}
	if o.Dec < -90 || o.Dec > 90 {
		return nil, fmt.Errorf("slew %s: Dec %v outside [-90, 90]", o.Name, o.Dec)
	}

	pending := o.Env.Exec.Submit(o.Env.context(), o.Mount, device.Command{
		Action: "slew",
		Params: map[string]float64{"ra": o.RA, "dec": o.Dec},
	})

	reading, err := awaitPending(h, pending, Report{Stage: "slewing"})
	if err != nil {
		return nil, fmt.Errorf("slew %s: %w", o.Name, err)
	}

	o.Env.Log.Info().
		Str("op", o.Name).
		Float64("ra", reading.Value("ra")).
		Float64("dec", reading.Value("dec")).
		Msg("slew complete")

	return Pointing{
		RA:  reading.Value("ra"),
		Dec: reading.Value("dec"),
	}, nil
}
