package config

import (
	"fmt"
	"time"
)

// SchedulerConfig tunes the task scheduler.
type SchedulerConfig struct {
	PollIntervalMS int `json:"poll_interval_ms"` // pause between scans, milliseconds
}

// ExposureConfig bounds capture operations and their adaptive retry.
type ExposureConfig struct {
	MinSeconds       float64 `json:"min_seconds"`       // shortest legal exposure
	MaxSeconds       float64 `json:"max_seconds"`       // longest legal exposure
	QualityThreshold float64 `json:"quality_threshold"` // frames scoring below this are retried
	MaxAttempts      int     `json:"max_attempts"`
	AdjustFactor     float64 `json:"adjust_factor"` // exposure multiplier applied after a rejected frame
}

// DeviceConfig defines one addressable device.
type DeviceConfig struct {
	Kind     string             `json:"kind"`               // "camera", "focuser", "mount"
	Driver   string             `json:"driver"`             // "sim" for the built-in simulators
	Settings map[string]float64 `json:"settings,omitempty"` // driver-specific knobs
}

// ExecutorConfig sizes the device command worker pool.
type ExecutorConfig struct {
	Workers int `json:"workers"`
}

// RetryConfig shapes device-command retry backoff.
type RetryConfig struct {
	InitialIntervalMS int     `json:"initial_interval_ms"`
	MaxIntervalMS     int     `json:"max_interval_ms"`
	MaxElapsedSeconds int     `json:"max_elapsed_seconds"`
	Multiplier        float64 `json:"multiplier"`
}

// BreakerConfig shapes the per-device circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32 `json:"max_requests"`         // probes allowed while half-open
	TimeoutSeconds      int    `json:"timeout_seconds"`      // how long the breaker stays open
	ConsecutiveFailures uint32 `json:"consecutive_failures"` // failures before tripping
}

// JournalConfig locates the run journal database.
type JournalConfig struct {
	Path string `json:"path"`
}

// FramesConfig locates captured frame storage.
type FramesConfig struct {
	Root     string `json:"root"`
	KeepDays int    `json:"keep_days"` // Prune removes leftover sessions older than this
}

// IndiConfig controls the external INDI server process.
type IndiConfig struct {
	Autostart    bool     `json:"autostart"`
	Command      string   `json:"command"`
	Args         []string `json:"args,omitempty"`
	Port         int      `json:"port"`
	ReadySeconds int      `json:"ready_seconds"` // how long to wait for the server to accept connections
}

// PipelineStepConfig is one operation in a pipeline chain.
type PipelineStepConfig struct {
	Op string `json:"op"` // operation kind, e.g. "exposure", "grade", "archive"
}

// PipelineConfig chains operations: when a task running one step's op
// completes, the next step is scheduled depending on it.
type PipelineConfig struct {
	Steps []PipelineStepConfig `json:"steps"`
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig           `json:"scheduler"`
	Exposure  ExposureConfig            `json:"exposure"`
	Devices   map[string]DeviceConfig   `json:"devices"`
	Executor  ExecutorConfig            `json:"executor"`
	Retry     RetryConfig               `json:"retry"`
	Breaker   BreakerConfig             `json:"breaker"`
	Journal   JournalConfig             `json:"journal"`
	Frames    FramesConfig              `json:"frames"`
	Indi      IndiConfig                `json:"indi"`
	Pipelines map[string]PipelineConfig `json:"pipelines"`
}

// PollInterval returns the scheduler poll interval as a duration, falling
// back to 100ms when unset.
func (c *Config) PollInterval() time.Duration {
	if c.Scheduler.PollIntervalMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.Scheduler.PollIntervalMS) * time.Millisecond
}

// Validate rejects configurations the sequencer cannot run with.
func (c *Config) Validate() error {
	if c.Exposure.MinSeconds <= 0 || c.Exposure.MaxSeconds <= c.Exposure.MinSeconds {
		return fmt.Errorf("exposure bounds invalid: min %v, max %v", c.Exposure.MinSeconds, c.Exposure.MaxSeconds)
	}
	if c.Exposure.QualityThreshold <= 0 || c.Exposure.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold %v outside (0, 1]", c.Exposure.QualityThreshold)
	}
	if c.Exposure.MaxAttempts < 1 {
		return fmt.Errorf("exposure max_attempts must be at least 1, got %d", c.Exposure.MaxAttempts)
	}
	if c.Exposure.AdjustFactor <= 0 {
		return fmt.Errorf("exposure adjust_factor must be positive, got %v", c.Exposure.AdjustFactor)
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor workers must be at least 1, got %d", c.Executor.Workers)
	}
	for name, dev := range c.Devices {
		switch dev.Kind {
		case "camera", "focuser", "mount":
		default:
			return fmt.Errorf("device %q has unknown kind %q", name, dev.Kind)
		}
	}
	for name, p := range c.Pipelines {
		if len(p.Steps) == 0 {
			return fmt.Errorf("pipeline %q has no steps", name)
		}
		for i, step := range p.Steps {
			if step.Op == "" {
				return fmt.Errorf("pipeline %q step %d has no op", name, i)
			}
		}
	}
	return nil
}
