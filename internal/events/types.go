package events

import (
	"time"
)

// Event is the base interface for everything published on the bus.
// Ref names the task or sequence run the event concerns, empty when
// the event is not tied to one.
type Event interface {
	Topic() string
	Kind() string
	Ref() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicScheduler = "scheduler"
	TopicDevice    = "device"
	TopicSequence  = "sequence"
)

// Event kind constants
const (
	KindTaskScheduled    = "task.scheduled"
	KindTaskProgress     = "task.progress"
	KindTaskCompleted    = "task.completed"
	KindTaskFailed       = "task.failed"
	KindTaskCancelled    = "task.cancelled"
	KindSchedulerTick    = "scheduler.tick"
	KindDeviceCommand    = "device.command"
	KindSequenceStarted  = "sequence.started"
	KindSequenceFinished = "sequence.finished"
)

// TaskScheduled is published when a task is registered with the scheduler.
type TaskScheduled struct {
	ID        string
	Name      string
	DependsOn []string
	At        time.Time
}

func (e TaskScheduled) Topic() string { return TopicTask }
func (e TaskScheduled) Kind() string  { return KindTaskScheduled }
func (e TaskScheduled) Ref() string   { return e.ID }

// TaskProgress is published when a resume leaves a task suspended with a
// fresh progress value.
type TaskProgress struct {
	ID    string
	Value any
	At    time.Time
}

func (e TaskProgress) Topic() string { return TopicTask }
func (e TaskProgress) Kind() string  { return KindTaskProgress }
func (e TaskProgress) Ref() string   { return e.ID }

// TaskCompleted is published when a task reaches its final value.
type TaskCompleted struct {
	ID    string
	Value any
	At    time.Time
}

func (e TaskCompleted) Topic() string { return TopicTask }
func (e TaskCompleted) Kind() string  { return KindTaskCompleted }
func (e TaskCompleted) Ref() string   { return e.ID }

// TaskFailed is published when a task terminates with an error.
type TaskFailed struct {
	ID  string
	Err error
	At  time.Time
}

func (e TaskFailed) Topic() string { return TopicTask }
func (e TaskFailed) Kind() string  { return KindTaskFailed }
func (e TaskFailed) Ref() string   { return e.ID }

// TaskCancelled is published when the scheduler cancels a task, usually
// because a required dependency failed.
type TaskCancelled struct {
	ID     string
	Reason error
	At     time.Time
}

func (e TaskCancelled) Topic() string { return TopicTask }
func (e TaskCancelled) Kind() string  { return KindTaskCancelled }
func (e TaskCancelled) Ref() string   { return e.ID }

// SchedulerTick carries per-scan counters for observers.
type SchedulerTick struct {
	Pending   int
	Resumed   int
	Succeeded int
	Failed    int
	Cancelled int
	At        time.Time
}

func (e SchedulerTick) Topic() string { return TopicScheduler }
func (e SchedulerTick) Kind() string  { return KindSchedulerTick }
func (e SchedulerTick) Ref() string   { return "" }

// DeviceCommand is published when a device command finishes, successfully
// or not.
type DeviceCommand struct {
	Device   string
	Action   string
	Err      error
	Duration time.Duration
	At       time.Time
}

func (e DeviceCommand) Topic() string { return TopicDevice }
func (e DeviceCommand) Kind() string  { return KindDeviceCommand }
func (e DeviceCommand) Ref() string   { return e.Device }

// SequenceStarted is published when a plan begins executing.
type SequenceStarted struct {
	RunID string
	Plan  string
	Tasks int
	At    time.Time
}

func (e SequenceStarted) Topic() string { return TopicSequence }
func (e SequenceStarted) Kind() string  { return KindSequenceStarted }
func (e SequenceStarted) Ref() string   { return e.RunID }

// SequenceFinished is published when a run ends, with terminal counts.
type SequenceFinished struct {
	RunID     string
	Plan      string
	Succeeded int
	Failed    int
	Cancelled int
	Err       error
	At        time.Time
}

func (e SequenceFinished) Topic() string { return TopicSequence }
func (e SequenceFinished) Kind() string  { return KindSequenceFinished }
func (e SequenceFinished) Ref() string   { return e.RunID }
