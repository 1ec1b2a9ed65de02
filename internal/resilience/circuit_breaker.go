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

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the position of a circuit breaker
type CircuitState int

const (
	// CircuitClosed lets every call through
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout has passed
	CircuitOpen
	// CircuitHalfOpen lets a limited number of trial calls through
	CircuitHalfOpen
)

var circuitStateNames = [...]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreakerConfig tunes a CircuitBreaker. Zero values fall back to the
// defaults of DefaultCircuitBreakerConfig, except ResetTimeout.
type CircuitBreakerConfig struct {
	Name                string
	MaxFailures         int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	IsFailureFunc       func(error) bool
}

// DefaultCircuitBreakerConfig returns the configuration used around the
// Genie API when nothing else is configured
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                name,
		MaxFailures:         5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
		IsFailureFunc:       DefaultIsFailureFunc,
	}
}

// DefaultIsFailureFunc counts every error except a cancelled or expired
// caller context, which says nothing about the remote side's health
func DefaultIsFailureFunc(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreakerStats is a snapshot of a breaker for health reporting
type CircuitBreakerStats struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	TotalRequests int64     `json:"total_requests"`
	TotalFailures int64     `json:"total_failures"`
	Rejected      int64     `json:"rejected"`
	LastFailure   time.Time `json:"last_failure"`
	Since         time.Time `json:"since"`
}

// ErrCircuitBreakerOpen is returned when the circuit breaker rejects a call
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker fails fast after repeated failures of a dependency
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	now func() time.Time

	mu            sync.Mutex
	state         CircuitState
	since         time.Time
	failures      int
	trials        int
	totalRequests int64
	totalFailures int64
	rejected      int64
	lastFailure   time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultCircuitBreakerConfig(config.Name)
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaults.MaxFailures
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}
	if config.IsFailureFunc == nil {
		config.IsFailureFunc = defaults.IsFailureFunc
	}

	return &CircuitBreaker{
		config: config,
		logger: logger,
		now:    time.Now,
		state:  CircuitClosed,
		since:  time.Now(),
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if cb == nil {
		return fn(ctx)
	}

	state, ok := cb.acquire()
	if !ok {
		return ErrCircuitBreakerOpen
	}

	err := fn(ctx)
	cb.record(state, err)
	return err
}

func (cb *CircuitBreaker) acquire() (CircuitState, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.current()
	admitted := state == CircuitClosed ||
		(state == CircuitHalfOpen && cb.trials < cb.config.HalfOpenMaxRequests)
	if !admitted {
		cb.rejected++
		return state, false
	}
	if state == CircuitHalfOpen {
		cb.trials++
	}
	cb.totalRequests++
	return state, true
}

// current moves an open circuit whose timeout has passed to half-open. mu
// must be held.
func (cb *CircuitBreaker) current() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.since) >= cb.config.ResetTimeout {
		cb.setState(CircuitHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) record(admittedIn CircuitState, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if admittedIn == CircuitHalfOpen && cb.trials > 0 {
		cb.trials--
	}

	switch {
	case cb.config.IsFailureFunc(err):
		cb.failures++
		cb.totalFailures++
		cb.lastFailure = cb.now()
		cb.logger.Debug("Circuit breaker recorded failure",
			zap.String("name", cb.config.Name),
			zap.Int("failures", cb.failures),
			zap.Error(err))

		if cb.state == CircuitHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.setState(CircuitOpen)
		}
	case err == nil:
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.setState(CircuitClosed)
		}
	}
	// Any other error was the caller giving up and is not counted
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(next CircuitState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state, cb.since, cb.trials = next, cb.now(), 0
	if next == CircuitClosed {
		cb.failures = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.config.Name),
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
}

// State returns the current state, moving an expired open circuit to half-open
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	if cb == nil {
		return CircuitBreakerStats{Name: "unknown", State: CircuitClosed.String()}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:          cb.config.Name,
		State:         cb.state.String(),
		Failures:      cb.failures,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		Rejected:      cb.rejected,
		LastFailure:   cb.lastFailure,
		Since:         cb.since,
	}
}
