// Package throttle bounds and retries all outbound calls to the external
// music API. One Throttle instance is shared process-wide so the external
// rate budget holds no matter how many users sync concurrently.
package throttle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds throttle tuning.
type Config struct {
	RequestsPerSecond float64       // Sustained admission rate
	Burst             int           // Momentary burst allowance
	MaxInFlight       int64         // Concurrent external calls allowed
	RetryAttempts     int           // Attempts per task before giving up
	RetryDelay        time.Duration // Fixed delay between attempts
}

// DefaultConfig mirrors what the external API tolerates.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             5,
		MaxInFlight:       3,
		RetryAttempts:     10,
		RetryDelay:        50 * time.Millisecond,
	}
}

// Throttle admits tasks in FIFO order at a bounded rate and bounds the
// number executing concurrently.
type Throttle struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	cfg     Config
}

// New creates a Throttle from cfg. Zero-valued fields fall back to defaults.
func New(cfg Config) *Throttle {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		cfg:     cfg,
	}
}

// Do runs one logical external-API interaction through the throttle,
// returning the task's error unchanged.
func (t *Throttle) Do(ctx context.Context, task func(ctx context.Context) error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	return task(ctx)
}

// RetryError reports a task that failed every attempt.
type RetryError struct {
	Attempts int
	LastErr  error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("task failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap exposes the last failure so errors.Is/As see through the retry.
func (e *RetryError) Unwrap() error {
	return e.LastErr
}

// DoWithRetry runs the task through the throttle, re-invoking it up to the
// configured attempt bound with a fixed delay between attempts. On
// exhaustion it returns a *RetryError wrapping the last failure; callers
// treat that as fatal for the single item, not for the whole run.
func (t *Throttle) DoWithRetry(ctx context.Context, task func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < t.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.cfg.RetryDelay):
			}
		}

		lastErr = t.Do(ctx, task)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return &RetryError{Attempts: t.cfg.RetryAttempts, LastErr: lastErr}
}
