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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errRemote = errors.New("remote failure")

func newTestBreaker(t *testing.T, maxFailures int) (*CircuitBreaker, *time.Time) {
	t.Helper()
	config := DefaultCircuitBreakerConfig("genie")
	config.MaxFailures = maxFailures
	config.ResetTimeout = time.Minute

	cb := NewCircuitBreaker(config, zaptest.NewLogger(t))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	cb.since = now
	return cb, &now
}

func fail(context.Context) error    { return errRemote }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, 2)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRemote)
	assert.Equal(t, CircuitClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRemote)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().Rejected)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, 2)

	_ = cb.Execute(context.Background(), fail)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Failures)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(t, 1)

	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(t, 1)

	_ = cb.Execute(context.Background(), fail)
	*now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRemote)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_IgnoresCallerCancellation(t *testing.T) {
	cb, _ := newTestBreaker(t, 1)

	err := cb.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, int64(0), cb.Stats().TotalFailures)
}

func TestCircuitBreaker_NilPassesThrough(t *testing.T) {
	var cb *CircuitBreaker
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errRemote)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}
