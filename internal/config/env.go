package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables recognized as overrides. They take precedence
// over every config file; the process environment is the operator's
// final word. Callers that want .env files honored should load them
// (e.g. with godotenv) before calling Load.
const (
	EnvPollIntervalMS   = "ASTROSCHED_POLL_INTERVAL_MS"
	EnvQualityThreshold = "ASTROSCHED_QUALITY_THRESHOLD"
	EnvJournalPath      = "ASTROSCHED_JOURNAL_PATH"
	EnvFramesRoot       = "ASTROSCHED_FRAMES_ROOT"
	EnvIndiCommand      = "ASTROSCHED_INDI_COMMAND"
	EnvIndiAutostart    = "ASTROSCHED_INDI_AUTOSTART"
)

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvPollIntervalMS); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollIntervalMS, err)
		}
		cfg.Scheduler.PollIntervalMS = ms
	}
	if v := os.Getenv(EnvQualityThreshold); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQualityThreshold, err)
		}
		cfg.Exposure.QualityThreshold = threshold
	}
	if v := os.Getenv(EnvJournalPath); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv(EnvFramesRoot); v != "" {
		cfg.Frames.Root = v
	}
	if v := os.Getenv(EnvIndiCommand); v != "" {
		cfg.Indi.Command = v
	}
	if v := os.Getenv(EnvIndiAutostart); v != "" {
		autostart, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIndiAutostart, err)
		}
		cfg.Indi.Autostart = autostart
	}
	return nil
}
