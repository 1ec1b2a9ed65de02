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

// Package health reports the state of the bot's dependencies
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/genie-teams-bot/internal/resilience"
)

// Dependency and service states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	// DefaultTimeout bounds one run of all checks
	DefaultTimeout = 5 * time.Second
	// Path is where the health report is served
	Path = "/health"
)

// CheckResult is the state of one dependency
type CheckResult struct {
	Status    string                 `json:"status"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Latency   time.Duration          `json:"latency_ns"`
	Timestamp time.Time              `json:"checked_at"`
}

// Response is the complete health report. Runtime figures are exported on
// /metrics and not repeated here.
type Response struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	UptimeSec    int64                  `json:"uptime_seconds"`
	Dependencies map[string]CheckResult `json:"dependencies"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Checker reports one dependency
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) CheckResult

func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// Manager runs the registered checks
type Manager struct {
	service string
	version string
	started time.Time
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewManager creates a manager reporting for service at version
func NewManager(service, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		service:  service,
		version:  version,
		started:  time.Now(),
		timeout:  DefaultTimeout,
		logger:   logger,
		checkers: make(map[string]Checker),
	}
}

// SetTimeout changes DefaultTimeout
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// AddChecker registers checker under name, replacing any previous one
func (m *Manager) AddChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// Check runs every checker concurrently. Any unhealthy dependency makes the
// service unhealthy; a degraded one makes it degraded.
func (m *Manager) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checkers))
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			begun := time.Now()
			result := checker.Check(ctx)
			result.Latency, result.Timestamp = time.Since(begun), time.Now()

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	status := StatusHealthy
	for name, result := range results {
		if severity(result.Status) > severity(status) {
			status = result.Status
		}
		if result.Status == StatusUnhealthy {
			m.logger.Warn("Dependency unhealthy", zap.String("dependency", name), zap.String("error", result.Error))
		}
	}

	return Response{
		Status:       status,
		Service:      m.service,
		Version:      m.version,
		UptimeSec:    int64(time.Since(m.started).Seconds()),
		Dependencies: results,
		Timestamp:    time.Now(),
	}
}

func severity(status string) int {
	switch status {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Register serves the report at Path
func (m *Manager) Register(router gin.IRoutes) {
	router.GET(Path, m.Handle)
}

// Handle writes the report. Unhealthy answers 503; degraded still answers 200.
func (m *Manager) Handle(c *gin.Context) {
	report := m.Check(c.Request.Context())
	if report.Status == StatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Pinger is a dependency that can check its own reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker reports the state storage. A ping that runs out of time is
// degraded rather than unhealthy.
func StorageChecker(backend string, storage Pinger) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		metadata := map[string]interface{}{"backend": backend}
		if err := storage.Ping(ctx); err != nil {
			status := StatusUnhealthy
			if errors.Is(err, context.DeadlineExceeded) {
				status = StatusDegraded
			}
			return CheckResult{
				Status:   status,
				Error:    fmt.Sprintf("storage ping failed: %v", err),
				Metadata: metadata,
			}
		}
		return CheckResult{Status: StatusHealthy, Metadata: metadata}
	})
}

// BreakerStats is anything that can describe a circuit breaker
type BreakerStats interface {
	State() resilience.CircuitState
	Stats() resilience.CircuitBreakerStats
}

// BreakerChecker reports a circuit breaker. Sign-in keeps working while Genie
// is failing, so an open or half-open circuit only degrades the service.
func BreakerChecker(breaker BreakerStats) Checker {
	return CheckerFunc(func(context.Context) CheckResult {
		state := breaker.State()
		stats := breaker.Stats()

		result := CheckResult{
			Status: StatusHealthy,
			Metadata: map[string]interface{}{
				"state":          state.String(),
				"failures":       stats.Failures,
				"total_requests": stats.TotalRequests,
				"total_failures": stats.TotalFailures,
				"rejected":       stats.Rejected,
			},
		}
		if state != resilience.CircuitClosed {
			result.Status = StatusDegraded
			result.Error = fmt.Sprintf("circuit %s is %s", stats.Name, state)
		}
		return result
	})
}

// BacklogChecker reports a work queue as degraded once depth reaches limit
func BacklogChecker(depth func() int, limit int) Checker {
	return CheckerFunc(func(context.Context) CheckResult {
		n := depth()
		result := CheckResult{
			Status:   StatusHealthy,
			Metadata: map[string]interface{}{"pending": n, "limit": limit},
		}
		if limit > 0 && n >= limit {
			result.Status = StatusDegraded
			result.Error = "turn backlog is full"
		}
		return result
	})
}
