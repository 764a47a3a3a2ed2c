// Package retry provides operation execution with retries and exponential backoff
package retry

import (
	"context"
	"math"
	"time"

	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// Config controls retry behavior. MaxRetries counts retries after the initial
// attempt, so an operation runs at most MaxRetries+1 times.
type Config struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// DefaultConfig returns sensible retry defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Runner executes operations with retry logic. Only wrap idempotent
// operations: a retried write that already took effect is the caller's
// problem, not the runner's.
type Runner struct {
	config Config
}

// NewRunner creates a new retry-enabled operation runner
func NewRunner(config Config) *Runner {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.BackoffFactor <= 1.0 {
		config.BackoffFactor = 2.0
	}
	return &Runner{config: config}
}

// Do runs op until it succeeds or attempts are exhausted. After exhaustion it
// returns a RETRY_EXHAUSTED service error carrying the last underlying failure.
func (r *Runner) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				// Continue to retry
			}
		}

		if err := op(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	return svcerr.RetryExhausted(
		name+" failed after all retry attempts",
		map[string]interface{}{
			"operation":   name,
			"max_retries": r.config.MaxRetries,
			"last_error":  lastErr.Error(),
		},
	).WithCause(lastErr)
}

// calculateDelay computes the delay for the given attempt using exponential backoff
func (r *Runner) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	return time.Duration(delay)
}
