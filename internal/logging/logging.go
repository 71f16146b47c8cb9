// Package logging builds the zerolog loggers the commands hand down the
// stack: a console writer for interactive runs, a JSON file writer for runs
// where the terminal belongs to the monitor UI.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Console returns a human-readable logger for interactive commands.
func Console(debug bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	output.FormatLevel = func(i interface{}) string {
		return fmt.Sprintf("[%s]", i)
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
	return zerolog.New(output).With().Timestamp().Logger().Level(level(debug))
}

// File returns a JSON logger writing to a timestamped file under dir. The
// caller owns the returned file and closes it when the program exits.
func File(dir string, debug bool) (zerolog.Logger, *os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("astrosched_%s.log", time.Now().Format("2006-01-02_15-04-05"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log file: %w", err)
	}

	return zerolog.New(f).With().Timestamp().Logger().Level(level(debug)), f, nil
}

func level(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
