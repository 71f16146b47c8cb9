package config

import "path/filepath"

// DefaultConfig returns the built-in configuration: simulated devices, a
// capture pipeline, and tunables sized for a single-telescope rig.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			PollIntervalMS: 100,
		},
		Exposure: ExposureConfig{
			MinSeconds:       0.001,
			MaxSeconds:       3600,
			QualityThreshold: 0.7,
			MaxAttempts:      5,
			AdjustFactor:     1.5,
		},
		Devices: map[string]DeviceConfig{
			"camera": {
				Kind:   "camera",
				Driver: "sim",
			},
			"focuser": {
				Kind:   "focuser",
				Driver: "sim",
			},
			"mount": {
				Kind:   "mount",
				Driver: "sim",
			},
		},
		Executor: ExecutorConfig{
			Workers: 2,
		},
		Retry: RetryConfig{
			InitialIntervalMS: 100,
			MaxIntervalMS:     10000,
			MaxElapsedSeconds: 120,
			Multiplier:        2.0,
		},
		Breaker: BreakerConfig{
			MaxRequests:         3,
			TimeoutSeconds:      30,
			ConsecutiveFailures: 5,
		},
		Journal: JournalConfig{
			Path: filepath.Join(".astrosched", "journal.db"),
		},
		Frames: FramesConfig{
			Root:     "frames",
			KeepDays: 14,
		},
		Indi: IndiConfig{
			Autostart:    false,
			Command:      "indiserver",
			Port:         7624,
			ReadySeconds: 10,
		},
		Pipelines: map[string]PipelineConfig{
			"capture": {
				Steps: []PipelineStepConfig{
					{Op: "exposure"},
					{Op: "grade"},
					{Op: "archive"},
				},
			},
		},
	}
}
