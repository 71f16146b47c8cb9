package ops

import (
	"fmt"
	"time"

	"github.com/astrosched/astrosched/internal/device"
	"github.com/astrosched/astrosched/internal/scheduler"
)

// ExposureOp captures a frame, retrying with stretched exposures until the
// quality threshold is met or the attempt budget runs out. Rejected
// attempts are kept in the session for diagnostics; the accepted frame is
// returned as the task value for downstream grading and archiving.
type ExposureOp struct {
	Env     Env
	Name    string  // task name, usually the plan step id
	Camera  string  // device name
	Target  string  // what is being imaged, used for frame naming
	Seconds float64 // initial exposure duration
}

// ProduceTask builds and starts the exposure task.
func (o *ExposureOp) ProduceTask() (*scheduler.Task, error) {
	if o.Env.Exec == nil {
		return nil, fmt.Errorf("exposure %s: no device executor", o.Name)
	}
	return scheduler.NewTask(o.Name, o.run), nil
}

func (o *ExposureOp) run(h *scheduler.Handle) (any, error) {
	cfg := o.Env.exposure()

	// Validate before touching the camera: a bad request fails the task
	// without consuming an attempt.
	if o.Target == "" {
		return nil, fmt.Errorf("exposure %s: no target", o.Name)
	}
	if o.Seconds < cfg.MinSeconds || o.Seconds > cfg.MaxSeconds {
		return nil, fmt.Errorf("exposure %s: duration %vs outside [%v, %v]",
			o.Name, o.Seconds, cfg.MinSeconds, cfg.MaxSeconds)
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	adjust := cfg.AdjustFactor
	if adjust <= 0 {
		adjust = 1.5
	}

	seconds := o.Seconds
	var lastQuality float64

	for attempt := 1; attempt <= attempts; attempt++ {
		pending := o.Env.Exec.Submit(o.Env.context(), o.Camera, device.Command{
			Action: "expose",
			Params: map[string]float64{"seconds": seconds},
		})

		reading, err := awaitPending(h, pending, Report{
			Stage:   "exposing",
			Attempt: attempt,
			Seconds: seconds,
		})
		if err != nil {
			return nil, fmt.Errorf("exposure %s attempt %d: %w", o.Name, attempt, err)
		}

		quality := reading.Value("quality")
		lastQuality = quality
		actual := reading.Value("seconds")
		if actual == 0 {
			actual = seconds
		}

		frame := Frame{
			Target:   o.Target,
			Device:   o.Camera,
			Seconds:  actual,
			Quality:  quality,
			Attempt:  attempt,
			Captured: time.Now(),
		}

		if quality >= cfg.QualityThreshold {
			o.Env.Log.Info().
				Str("op", o.Name).
				Str("target", o.Target).
				Int("attempt", attempt).
				Float64("quality", quality).
				Msg("frame accepted")
			return frame, nil
		}

		// Keep the rejected attempt around for diagnostics
		if o.Env.Session != nil {
			name := fmt.Sprintf("%s-attempt%d", slugify(o.Target), attempt)
			if _, err := o.Env.Session.WriteReject(name, frame); err != nil {
				o.Env.Log.Warn().Str("op", o.Name).Err(err).Msg("could not record rejected frame")
			}
		}
		o.Env.Log.Debug().
			Str("op", o.Name).
			Int("attempt", attempt).
			Float64("quality", quality).
			Float64("threshold", cfg.QualityThreshold).
			Msg("frame rejected")

		if attempt == attempts {
			break
		}

		// Stretch the exposure and go again
		seconds = seconds * adjust
		if seconds > cfg.MaxSeconds {
			seconds = cfg.MaxSeconds
		}
		if err := h.Progress(Report{
			Stage:   "retrying",
			Attempt: attempt,
			Quality: quality,
			Seconds: seconds,
		}); err != nil {
			return nil, err
		}
	}

	return nil, &scheduler.ExhaustedRetriesError{
		Op:       o.Name,
		Attempts: attempts,
		Err:      fmt.Errorf("last quality %.2f below threshold %.2f", lastQuality, cfg.QualityThreshold),
	}
}
