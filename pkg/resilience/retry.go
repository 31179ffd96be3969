// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides bounded retry and error classification for the
// orchestrator and its collaborators.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// BackoffFunc returns the delay to wait after the given (zero-based) failed attempt.
type BackoffFunc func(attempt int) time.Duration

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig controls retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// Backoff computes the wait between attempts. Defaults to ExponentialBackoff.
	Backoff BackoffFunc

	// IsRecoverable determines if an error should be retried.
	// If nil, errors are retried when their code is transient.
	IsRecoverable func(error) bool

	// Sleep waits between attempts. Defaults to a timer honoring ctx.
	Sleep SleepFunc

	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		Backoff:       ExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 0.1),
		IsRecoverable: IsTransient,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithBackoff returns a new config with Backoff set.
func (rc RetryConfig) WithBackoff(fn BackoffFunc) RetryConfig {
	rc.Backoff = fn
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithSleep returns a new config with Sleep set.
func (rc RetryConfig) WithSleep(fn SleepFunc) RetryConfig {
	rc.Sleep = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts
// fail. fn receives the zero-based attempt number.
func (rc RetryConfig) Do(ctx context.Context, fn func(attempt int) error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = IsTransient
	}
	if rc.Backoff == nil {
		rc.Backoff = ExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 0)
	}
	if rc.Sleep == nil {
		rc.Sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !rc.IsRecoverable(err) || attempt == rc.MaxAttempts-1 {
			return err
		}

		delay := rc.Backoff(attempt)
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, err, delay)
		}
		if err := rc.Sleep(ctx, delay); err != nil {
			return errors.New(errors.CodeContextLost, "context canceled during retry", err).
				WithContext("attempt", attempt).
				WithContext("max_attempts", rc.MaxAttempts).
				WithRecoverable(false)
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// LinearBackoff waits (attempt+1)*step after each failed attempt.
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt+1) * step
	}
}

// ExponentialBackoff waits initial*multiplier^attempt, capped at max, with
// optional ±jitter (0.1 means ±10%).
func ExponentialBackoff(initial, max time.Duration, multiplier, jitter float64) BackoffFunc {
	if multiplier == 0 {
		multiplier = 2.0
	}
	return func(attempt int) time.Duration {
		delay := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
		if max > 0 && delay > max {
			delay = max
		}
		if jitter > 0 {
			spread := float64(delay) * jitter
			delay = time.Duration(float64(delay) + 2*spread*(rand.Float64()-0.5))
			if delay < 0 {
				delay = 0
			}
		}
		return delay
	}
}
