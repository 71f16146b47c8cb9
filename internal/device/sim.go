package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Simulated device adapters. They model just enough physics to make the
// scheduling behavior interesting: exposure quality rises with duration,
// focus sharpness degrades away from the best position, and the mount
// rejects coordinates it cannot point at.

// setting reads a driver knob with a fallback.
func setting(settings map[string]float64, key string, fallback float64) float64 {
	if v, ok := settings[key]; ok {
		return v
	}
	return fallback
}

// simDelay sleeps for the configured latency, honoring cancellation.
func simDelay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func latencyOf(settings map[string]float64) time.Duration {
	return time.Duration(setting(settings, "latency_ms", 0)) * time.Millisecond
}

// SimCamera implements the Driver interface for a simulated camera.
// Frame quality follows a saturation curve: longer exposures score higher,
// approaching 1.0 asymptotically.
type SimCamera struct {
	name           string
	halfSaturation float64 // exposure seconds at which quality reaches 0.5
	latency        time.Duration

	mu          sync.Mutex
	temperature float64
}

// NewSimCamera creates a simulated camera.
// Settings: half_saturation (default 1.0), latency_ms (default 0).
func NewSimCamera(name string, settings map[string]float64) *SimCamera {
	return &SimCamera{
		name:           name,
		halfSaturation: setting(settings, "half_saturation", 1.0),
		latency:        latencyOf(settings),
		temperature:    15.0,
	}
}

// Send executes a camera command.
func (c *SimCamera) Send(ctx context.Context, cmd Command) (Reading, error) {
	if err := simDelay(ctx, c.latency); err != nil {
		return Reading{}, err
	}

	switch cmd.Action {
	case "expose":
		seconds := cmd.Params["seconds"]
		if seconds <= 0 {
			return Reading{}, fmt.Errorf("camera %s: exposure duration must be positive, got %v", c.name, seconds)
		}
		quality := seconds / (seconds + c.halfSaturation)
		return Reading{
			Values: map[string]float64{
				"quality": quality,
				"seconds": seconds,
			},
			Detail: fmt.Sprintf("exposed %.3fs, quality %.2f", seconds, quality),
		}, nil

	case "cool":
		target := cmd.Params["target_c"]
		c.mu.Lock()
		c.temperature = target
		c.mu.Unlock()
		return Reading{
			Values: map[string]float64{"temperature_c": target},
			Detail: fmt.Sprintf("cooler set to %.1fC", target),
		}, nil

	default:
		return Reading{}, fmt.Errorf("camera %s: unsupported action %q", c.name, cmd.Action)
	}
}

// Close is a no-op for the simulated camera.
func (c *SimCamera) Close() error {
	return nil
}

// Name returns the configured device name.
func (c *SimCamera) Name() string {
	return c.name
}

// SimFocuser implements the Driver interface for a simulated focuser.
// The half-flux radius is minimal at the best position and grows linearly
// with distance from it.
type SimFocuser struct {
	name         string
	bestPosition float64
	bestHFR      float64
	hfrPerStep   float64
	latency      time.Duration

	mu       sync.Mutex
	position float64
}

// NewSimFocuser creates a simulated focuser.
// Settings: best_position (default 5000), best_hfr (default 1.8),
// hfr_per_step (default 0.002), latency_ms (default 0).
func NewSimFocuser(name string, settings map[string]float64) *SimFocuser {
	return &SimFocuser{
		name:         name,
		bestPosition: setting(settings, "best_position", 5000),
		bestHFR:      setting(settings, "best_hfr", 1.8),
		hfrPerStep:   setting(settings, "hfr_per_step", 0.002),
		latency:      latencyOf(settings),
	}
}

// Send executes a focuser command.
func (f *SimFocuser) Send(ctx context.Context, cmd Command) (Reading, error) {
	if err := simDelay(ctx, f.latency); err != nil {
		return Reading{}, err
	}

	switch cmd.Action {
	case "move_focus":
		position := cmd.Params["position"]
		if position < 0 {
			return Reading{}, fmt.Errorf("focuser %s: position must be non-negative, got %v", f.name, position)
		}
		f.mu.Lock()
		f.position = position
		f.mu.Unlock()

		hfr := f.bestHFR + math.Abs(position-f.bestPosition)*f.hfrPerStep
		return Reading{
			Values: map[string]float64{
				"position": position,
				"hfr":      hfr,
			},
			Detail: fmt.Sprintf("moved to %.0f, hfr %.2f", position, hfr),
		}, nil

	default:
		return Reading{}, fmt.Errorf("focuser %s: unsupported action %q", f.name, cmd.Action)
	}
}

// Close is a no-op for the simulated focuser.
func (f *SimFocuser) Close() error {
	return nil
}

// Name returns the configured device name.
func (f *SimFocuser) Name() string {
	return f.name
}

// SimMount implements the Driver interface for a simulated equatorial mount.
type SimMount struct {
	name    string
	latency time.Duration

	mu     sync.Mutex
	ra     float64
	dec    float64
	parked bool
}

// NewSimMount creates a simulated mount.
// Settings: latency_ms (default 0).
func NewSimMount(name string, settings map[string]float64) *SimMount {
	return &SimMount{
		name:    name,
		latency: latencyOf(settings),
	}
}

// Send executes a mount command.
func (m *SimMount) Send(ctx context.Context, cmd Command) (Reading, error) {
	if err := simDelay(ctx, m.latency); err != nil {
		return Reading{}, err
	}

	switch cmd.Action {
	case "slew":
		ra := cmd.Params["ra"]
		dec := cmd.Params["dec"]
		if ra < 0 || ra >= 360 {
			return Reading{}, fmt.Errorf("mount %s: RA %v outside [0, 360)", m.name, ra)
		}
		if dec < -90 || dec > 90 {
			return Reading{}, fmt.Errorf("mount %s: Dec %v outside [-90, 90]", m.name, dec)
		}

		m.mu.Lock()
		if m.parked {
			m.mu.Unlock()
			return Reading{}, fmt.Errorf("mount %s: cannot slew while parked", m.name)
		}
		m.ra = ra
		m.dec = dec
		m.mu.Unlock()

		return Reading{
			Values: map[string]float64{"ra": ra, "dec": dec},
			Detail: fmt.Sprintf("slewed to RA %.2f Dec %.2f", ra, dec),
		}, nil

	case "park":
		m.mu.Lock()
		m.parked = true
		m.mu.Unlock()
		return Reading{
			Values: map[string]float64{"parked": 1},
			Detail: "mount parked",
		}, nil

	case "unpark":
		m.mu.Lock()
		m.parked = false
		m.mu.Unlock()
		return Reading{
			Values: map[string]float64{"parked": 0},
			Detail: "mount unparked",
		}, nil

	default:
		return Reading{}, fmt.Errorf("mount %s: unsupported action %q", m.name, cmd.Action)
	}
}

// Close is a no-op for the simulated mount.
func (m *SimMount) Close() error {
	return nil
}

// Name returns the configured device name.
func (m *SimMount) Name() string {
	return m.name
}
