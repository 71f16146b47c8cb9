package ops

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/astrosched/astrosched/internal/scheduler"
)

// ArchiveOp persists the frame produced by its source task into the
// session, fingerprinted so duplicate captures can be spotted later.
// Accepts either a Verdict (the usual pipeline) or a raw Frame.
type ArchiveOp struct {
	Env    Env
	Name   string
	Source *scheduler.Task
}

// ProduceTask builds and starts the archive task.
func (o *ArchiveOp) ProduceTask() (*scheduler.Task, error) {
	if o.Source == nil {
		return nil, fmt.Errorf("archive %s: no source task", o.Name)
	}
	return scheduler.NewTask(o.Name, o.run), nil
}

func (o *ArchiveOp) run(h *scheduler.Handle) (any, error) {
	value, err := h.Await(o.Source)
	if err != nil {
		return nil, fmt.Errorf("archive %s: source: %w", o.Name, err)
	}

	var frame Frame
	switch v := value.(type) {
	case Verdict:
		if !v.Accepted {
			return nil, fmt.Errorf("archive %s: refusing rejected frame of %s", o.Name, v.Frame.Target)
		}
		frame = v.Frame
	case Frame:
		frame = v
	default:
		return nil, fmt.Errorf("archive %s: source produced %T, want ops.Verdict or ops.Frame", o.Name, value)
	}

	if o.Env.Session == nil {
		return nil, fmt.Errorf("archive %s: no capture session", o.Name)
	}

	fingerprint, err := hashstructure.Hash(frame, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("archive %s: fingerprinting frame: %w", o.Name, err)
	}

	name := slugify(o.Source.Name())
	path, err := o.Env.Session.WriteFrame(name, struct {
		Frame       Frame  `json:"frame"`
		Fingerprint uint64 `json:"fingerprint"`
	}{frame, fingerprint})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", o.Name, err)
	}
	frame.Path = path

	o.Env.Log.Info().
		Str("op", o.Name).
		Str("target", frame.Target).
		Str("path", path).
		Msg("frame archived")

	return ArchiveReceipt{
		Path:        path,
		Fingerprint: fingerprint,
		Frame:       frame,
	}, nil
}
