package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/astrosched/astrosched/internal/events"
)

// ErrCommandPending is returned by Pending.Outcome while the command is
// still in flight.
var ErrCommandPending = errors.New("device command still in flight")

// Pending is a handle to a device command in flight. The outcome becomes
// readable once Done is closed.
type Pending struct {
	device  string
	action  string
	done    chan struct{}
	reading Reading
	err     error
}

// Done returns a channel closed when the command has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Ready reports whether the command has finished.
func (p *Pending) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Outcome returns the reading once the command has finished. Before that
// it returns ErrCommandPending.
func (p *Pending) Outcome() (Reading, error) {
	select {
	case <-p.done:
		return p.reading, p.err
	default:
		return Reading{}, ErrCommandPending
	}
}

// Wait blocks until the command finishes or the context is cancelled.
func (p *Pending) Wait(ctx context.Context) (Reading, error) {
	select {
	case <-p.done:
		return p.reading, p.err
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}

// Executor runs device commands on a bounded worker pool. Commands to the
// same device are serialized through the lock manager; commands to
// different devices run concurrently up to the pool size. Every command
// goes through per-device retry and circuit breaker protection.
type Executor struct {
	mu      sync.Mutex
	drivers map[string]Driver

	locks    *LockManager
	breakers *BreakerRegistry
	retry    RetryConfig
	sem      *semaphore.Weighted
	bus      *events.Bus
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewExecutor creates an executor with the given pool size.
func NewExecutor(workers int, retry RetryConfig, breakers *BreakerRegistry, log zerolog.Logger) *Executor {
	if workers <= 0 {
		workers = 2
	}
	return &Executor{
		drivers:  make(map[string]Driver),
		locks:    NewLockManager(),
		breakers: breakers,
		retry:    retry,
		sem:      semaphore.NewWeighted(int64(workers)),
		log:      log,
	}
}

// SetBus attaches an event bus. Call before submitting commands.
func (e *Executor) SetBus(bus *events.Bus) {
	e.bus = bus
}

// RegisterDriver makes a driver addressable by its name.
func (e *Executor) RegisterDriver(d Driver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drivers[d.Name()] = d
}

// Driver returns the registered driver for a device name.
func (e *Executor) Driver(name string) (Driver, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.drivers[name]
	return d, ok
}

// Submit enqueues a command for the named device and returns immediately
// with a handle to the in-flight command.
func (e *Executor) Submit(ctx context.Context, device string, cmd Command) *Pending {
	p := &Pending{
		device: device,
		action: cmd.Action,
		done:   make(chan struct{}),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(p.done)
		p.reading, p.err = e.execute(ctx, device, cmd)
	}()

	return p
}

// Do runs a command and blocks until it finishes.
func (e *Executor) Do(ctx context.Context, device string, cmd Command) (Reading, error) {
	return e.Submit(ctx, device, cmd).Wait(ctx)
}

func (e *Executor) execute(ctx context.Context, device string, cmd Command) (Reading, error) {
	start := time.Now()

	d, ok := e.Driver(device)
	if !ok {
		err := fmt.Errorf("no driver registered for device %q", device)
		e.report(device, cmd.Action, err, time.Since(start))
		return Reading{}, err
	}

	// Bound total concurrency first, then serialize per device
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.report(device, cmd.Action, err, time.Since(start))
		return Reading{}, err
	}
	defer e.sem.Release(1)

	e.locks.Lock(device)
	defer e.locks.Unlock(device)

	if err := ctx.Err(); err != nil {
		e.report(device, cmd.Action, err, time.Since(start))
		return Reading{}, err
	}

	reading, err := sendWithRetry(ctx, d, cmd, e.breakers.Get(device), e.retry)
	e.report(device, cmd.Action, err, time.Since(start))
	return reading, err
}

// report logs the command outcome and publishes it on the bus.
func (e *Executor) report(device, action string, err error, elapsed time.Duration) {
	if err != nil {
		e.log.Warn().
			Str("device", device).
			Str("action", action).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("device command failed")
	} else {
		e.log.Debug().
			Str("device", device).
			Str("action", action).
			Dur("elapsed", elapsed).
			Msg("device command done")
	}

	if e.bus != nil {
		e.bus.Publish(events.DeviceCommand{
			Device:   device,
			Action:   action,
			Err:      err,
			Duration: elapsed,
			At:       time.Now(),
		})
	}
}

// Close waits for in-flight commands and closes every driver.
func (e *Executor) Close() error {
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, d := range e.drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
