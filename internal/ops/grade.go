package ops

import (
	"fmt"

	"github.com/astrosched/astrosched/internal/scheduler"
)

// GradeOp scores the frame produced by its source task against the
// quality threshold. A frame below threshold fails the grade, so strict
// pipelines cancel their archive step instead of keeping a bad frame.
type GradeOp struct {
	Env       Env
	Name      string
	Source    *scheduler.Task // task producing the Frame
	Threshold float64         // 0 means use the configured threshold
}

// ProduceTask builds and starts the grading task.
func (o *GradeOp) ProduceTask() (*scheduler.Task, error) {
	if o.Source == nil {
		return nil, fmt.Errorf("grade %s: no source frame task", o.Name)
	}
	return scheduler.NewTask(o.Name, o.run), nil
}

func (o *GradeOp) run(h *scheduler.Handle) (any, error) {
	value, err := h.Await(o.Source)
	if err != nil {
		return nil, fmt.Errorf("grade %s: source frame: %w", o.Name, err)
	}

	frame, ok := value.(Frame)
	if !ok {
		return nil, fmt.Errorf("grade %s: source produced %T, want ops.Frame", o.Name, value)
	}

	threshold := o.Threshold
	if threshold <= 0 {
		threshold = o.Env.exposure().QualityThreshold
	}

	score := frame.Quality
	if score < threshold {
		return nil, fmt.Errorf("grade %s: frame quality %.2f below threshold %.2f", o.Name, score, threshold)
	}

	o.Env.Log.Info().
		Str("op", o.Name).
		Str("target", frame.Target).
		Float64("score", score).
		Msg("frame graded")

	return Verdict{
		Frame:    frame,
		Score:    score,
		Accepted: true,
	}, nil
}
