// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resilience provides retry, circuit breaking and error reporting
// helpers shared by the bot's outbound clients and HTTP handlers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig holds configuration for exponential backoff retry logic
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxRetries  int
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	RetryOnFunc func(error) bool
}

const (
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultMaxDelay caps a single wait between attempts
	DefaultMaxDelay = 10 * time.Second
	// DefaultMultiplier is the default exponential backoff multiplier
	DefaultMultiplier = 2.0
)

// DefaultBackoffConfig returns the configuration used for outbound Bot
// Framework calls: base delay 500ms, 3 retries, doubling per retry
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   500 * time.Millisecond,
		MaxRetries:  DefaultMaxRetries,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
		RetryOnFunc: IsRetryable,
	}
}

// RetryableError marks a failure that is worth another attempt, such as a
// 429 or 5xx response. RetryAfter, when set, overrides the computed delay.
type RetryableError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %v", e.StatusCode, e.Err)
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// RetryFunc is one attempt of a retried call
type RetryFunc func(ctx context.Context) error

// WithExponentialBackoff calls fn until it succeeds, fails with an error
// config does not retry, or MaxRetries retries are used up
func WithExponentialBackoff(ctx context.Context, logger *zap.Logger, config BackoffConfig, fn RetryFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryOn := config.RetryOnFunc
	if retryOn == nil {
		retryOn = IsRetryable
	}
	attempts := config.MaxRetries + 1

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := waitFor(config, attempt-1, err)
			logger.Debug("Retrying call",
				zap.Int("retry", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
			if sleepErr := sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
		}

		if err = fn(ctx); err == nil {
			if attempt > 0 {
				logger.Info("Call succeeded after retry", zap.Int("retries", attempt))
			}
			return nil
		}
		if !retryOn(err) {
			return err
		}
	}

	logger.Warn("Giving up on call", zap.Int("attempts", attempts), zap.Error(err))
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// waitFor prefers the server's Retry-After over the computed backoff
func waitFor(config BackoffConfig, retry int, err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) && retryable.RetryAfter > 0 {
		return min(retryable.RetryAfter, config.MaxDelay)
	}
	return backoffDelay(config, retry)
}

// backoffDelay is BaseDelay * Multiplier^retry capped at MaxDelay, with
// +/-10% jitter when enabled
func backoffDelay(config BackoffConfig, retry int) time.Duration {
	delay := min(
		time.Duration(float64(config.BaseDelay)*math.Pow(config.Multiplier, float64(retry))),
		config.MaxDelay)
	if !config.Jitter || delay <= 0 {
		return delay
	}
	return delay + time.Duration(float64(delay)*0.1*(2*rand.Float64()-1))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
