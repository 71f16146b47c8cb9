package device

import (
	"context"
	"fmt"

	"github.com/astrosched/astrosched/internal/config"
)

// Command represents one instruction sent to a device.
type Command struct {
	Action string             // e.g. "expose", "slew", "move_focus"
	Params map[string]float64 // action-specific parameters
}

// Reading represents a device's reply to a command.
type Reading struct {
	Values map[string]float64 // e.g. quality, hfr, ra, dec
	Detail string             // human-readable note from the driver
}

// Value returns a named value from the reading, or 0 when absent.
func (r Reading) Value(key string) float64 {
	return r.Values[key]
}

// Driver defines the interface that all device adapters must implement.
type Driver interface {
	// Send executes one command against the device and returns the reading.
	Send(ctx context.Context, cmd Command) (Reading, error)

	// Close releases the device.
	Close() error

	// Name returns the configured device name.
	Name() string
}

// New creates a new driver based on the provided configuration.
// This factory function switches on cfg.Driver and cfg.Kind and returns
// the appropriate adapter.
func New(name string, cfg config.DeviceConfig) (Driver, error) {
	switch cfg.Driver {
	case "sim":
		switch cfg.Kind {
		case "camera":
			return NewSimCamera(name, cfg.Settings), nil
		case "focuser":
			return NewSimFocuser(name, cfg.Settings), nil
		case "mount":
			return NewSimMount(name, cfg.Settings), nil
		default:
			return nil, fmt.Errorf("unknown device kind: %s", cfg.Kind)
		}
	default:
		return nil, fmt.Errorf("unknown device driver: %s", cfg.Driver)
	}
}
