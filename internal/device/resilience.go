package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/astrosched/astrosched/internal/config"
)

// RetryConfig configures exponential backoff for device commands.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// RetryFromConfig converts the JSON retry section into a RetryConfig,
// filling zero fields with defaults.
func RetryFromConfig(cfg config.RetryConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.InitialIntervalMS > 0 {
		rc.InitialInterval = time.Duration(cfg.InitialIntervalMS) * time.Millisecond
	}
	if cfg.MaxIntervalMS > 0 {
		rc.MaxInterval = time.Duration(cfg.MaxIntervalMS) * time.Millisecond
	}
	if cfg.MaxElapsedSeconds > 0 {
		rc.MaxElapsedTime = time.Duration(cfg.MaxElapsedSeconds) * time.Second
	}
	if cfg.Multiplier > 0 {
		rc.Multiplier = cfg.Multiplier
	}
	return rc
}

// BreakerRegistry manages per-device circuit breakers.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings config.BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewBreakerRegistry creates a new circuit breaker registry.
func NewBreakerRegistry(settings config.BreakerConfig, log zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      log,
	}
}

// Get returns the circuit breaker for the given device.
// Creates a new one if it doesn't exist.
func (r *BreakerRegistry) Get(device string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[device]; ok {
		return cb
	}

	maxRequests := r.settings.MaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	timeout := time.Duration(r.settings.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tripAfter := r.settings.ConsecutiveFailures
	if tripAfter == 0 {
		tripAfter = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        device,
		MaxRequests: maxRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.log.Warn().
				Str("device", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Don't count cancellation as device failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[device] = cb
	return cb
}

// sendWithRetry sends a command to the driver with exponential backoff retry
// and circuit breaker protection.
func sendWithRetry(ctx context.Context, d Driver, cmd Command, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig) (Reading, error) {
	var reading Reading

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		// Execute through circuit breaker
		result, err := cb.Execute(func() (interface{}, error) {
			return d.Send(ctx, cmd)
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			// Context cancelled - stop retrying
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			// Other errors will be retried
			return err
		}

		reading = result.(Reading)
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = retryCfg.InitialInterval
	backoffPolicy.MaxInterval = retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = retryCfg.MaxElapsedTime
	backoffPolicy.Multiplier = retryCfg.Multiplier
	backoffPolicy.RandomizationFactor = retryCfg.RandomizationFactor

	backoffWithContext := backoff.WithContext(backoffPolicy, ctx)

	err := backoff.Retry(operation, backoffWithContext)
	return reading, err
}
