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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/genie-teams-bot/internal/resilience"
)

func fixed(status string) Checker {
	return CheckerFunc(func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestManager_Check(t *testing.T) {
	manager := NewManager("genie-teams-bot", "1.0.0", zaptest.NewLogger(t))
	manager.AddChecker("healthy", fixed(StatusHealthy))
	manager.AddChecker("unhealthy", CheckerFunc(func(context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy, Error: "storage is down"}
	}))

	result := manager.Check(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("Expected status to be unhealthy, got %s", result.Status)
	}
	if result.Service != "genie-teams-bot" || result.Version != "1.0.0" {
		t.Errorf("Unexpected service identity %s %s", result.Service, result.Version)
	}
	if len(result.Dependencies) != 2 {
		t.Fatalf("Expected 2 dependencies, got %d", len(result.Dependencies))
	}
	if result.Dependencies["unhealthy"].Error != "storage is down" {
		t.Errorf("Expected error to be kept, got %q", result.Dependencies["unhealthy"].Error)
	}
	if result.Dependencies["healthy"].Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if result.UptimeSec < 0 {
		t.Errorf("Unexpected uptime %d", result.UptimeSec)
	}
}

func TestManager_Check_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		expected string
	}{
		{"no checkers", nil, StatusHealthy},
		{"all healthy", []string{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"degraded", []string{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []string{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("svc", "v", nil)
			for i, status := range tt.statuses {
				manager.AddChecker(fmt.Sprintf("dep-%d", i), fixed(status))
			}
			if got := manager.Check(context.Background()).Status; got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestManager_Check_Timeout(t *testing.T) {
	manager := NewManager("svc", "v", nil)
	manager.SetTimeout(50 * time.Millisecond)
	manager.AddChecker("slow", CheckerFunc(func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	}))

	start := time.Now()
	result := manager.Check(context.Background())

	if time.Since(start) > 2*time.Second {
		t.Error("Check did not honour its timeout")
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", result.Status)
	}
}

type pinger struct {
	err error
}

func (p pinger) Ping(context.Context) error {
	return p.err
}

func TestStorageChecker(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"reachable", nil, StatusHealthy},
		{"broken", errors.New("database is locked"), StatusUnhealthy},
		{"slow", fmt.Errorf("ping: %w", context.DeadlineExceeded), StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StorageChecker("sqlite", pinger{err: tt.err}).Check(context.Background())
			if result.Status != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result.Status)
			}
			if result.Metadata["backend"] != "sqlite" {
				t.Errorf("Expected backend metadata, got %v", result.Metadata)
			}
			if tt.err != nil && result.Error == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestBreakerChecker(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "genie",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	}, zaptest.NewLogger(t))
	checker := BreakerChecker(breaker)

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("Expected closed breaker to be healthy, got %s", result.Status)
	}

	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return errors.New("genie unavailable")
	})

	result = checker.Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("Expected open breaker to degrade, got %s", result.Status)
	}
	if result.Metadata["state"] != "open" {
		t.Errorf("Expected state metadata 'open', got %v", result.Metadata["state"])
	}
	if result.Error != "circuit genie is open" {
		t.Errorf("Unexpected error %q", result.Error)
	}
}

func TestBacklogChecker(t *testing.T) {
	depth := 3
	checker := BacklogChecker(func() int { return depth }, 5)

	if got := checker.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Expected healthy backlog, got %s", got)
	}

	depth = 5
	if got := checker.Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("Expected full backlog to degrade, got %s", got)
	}

	unlimited := BacklogChecker(func() int { return 1000 }, 0)
	if got := unlimited.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Expected unlimited backlog to stay healthy, got %s", got)
	}
}

func serve(t *testing.T, manager *Manager) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	manager.Register(router)

	req := httptest.NewRequest(http.MethodGet, Path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestManager_Handle(t *testing.T) {
	manager := NewManager("genie-teams-bot", "1.0.0", zaptest.NewLogger(t))
	manager.AddChecker("storage", StorageChecker("memory", pinger{}))
	manager.AddChecker("queue", fixed(StatusDegraded))

	w := serve(t, manager)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for degraded service, got %d", w.Code)
	}

	var response Response
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", response.Status)
	}
	if response.Dependencies["storage"].Status != StatusHealthy {
		t.Errorf("Expected healthy storage, got %s", response.Dependencies["storage"].Status)
	}
}

func TestManager_Handle_ServiceUnavailable(t *testing.T) {
	manager := NewManager("genie-teams-bot", "1.0.0", zaptest.NewLogger(t))
	manager.AddChecker("storage", StorageChecker("sqlite", pinger{err: errors.New("disk I/O error")}))

	w := serve(t, manager)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}
