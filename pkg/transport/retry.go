package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `koanf:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// MaxBackoff caps every delay, including Retry-After floors.
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `koanf:"multiplier"`

	// Jitter is the relative random spread applied to each delay (0.2 = ±20%).
	Jitter float64 `koanf:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       8,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Validate checks the configuration.
func (c RetryConfig) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts))
	}
	if c.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("initial_backoff must be positive (got %s)", c.InitialBackoff))
	}
	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, fmt.Errorf("max_backoff must be >= initial_backoff (got %s)", c.MaxBackoff))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be >= 1 (got %g)", c.BackoffMultiplier))
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("jitter must be in [0, 1) (got %g)", c.Jitter))
	}
	return errors.Join(errs...)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
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

// delay applies jitter and the Retry-After floor to the current backoff.
func (c RetryConfig) delay(backoff, floor time.Duration, randFloat func() float64) time.Duration {
	d := backoff
	if c.Jitter > 0 {
		// Jitter spreads d over [1-j, 1+j).
		d = time.Duration(float64(backoff) * (1 - c.Jitter + randFloat()*2*c.Jitter))
	}
	if floor > d {
		d = floor
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// next returns the backoff after the current one, capped at MaxBackoff.
func (c RetryConfig) next(backoff time.Duration) time.Duration {
	backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}
