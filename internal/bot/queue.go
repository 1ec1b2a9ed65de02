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

package bot

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxPending bounds the turns queued or running across all
// conversations
const DefaultMaxPending = 100

var (
	// ErrQueueClosed is returned once Shutdown has been called
	ErrQueueClosed = errors.New("turn queue is closed")
	// ErrQueueFull is returned when maxPending turns are already queued or running
	ErrQueueFull = errors.New("turn queue is full")
)

// TurnQueue runs jobs of the same key strictly in order, and jobs of
// different keys in parallel. One goroutine serves a key while it has work,
// so the number of goroutines never exceeds maxPending.
type TurnQueue struct {
	mu         sync.Mutex
	pending    map[string][]func()
	inFlight   int
	maxPending int
	closed     bool
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewTurnQueue creates a queue. maxPending <= 0 uses DefaultMaxPending.
func NewTurnQueue(maxPending int, logger *zap.Logger) *TurnQueue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnQueue{
		pending:    make(map[string][]func()),
		maxPending: maxPending,
		logger:     logger,
	}
}

// Enqueue schedules job after every job already queued for key
func (q *TurnQueue) Enqueue(key string, job func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.inFlight >= q.maxPending {
		return ErrQueueFull
	}
	jobs, active := q.pending[key]
	q.pending[key] = append(jobs, job)
	q.inFlight++

	if !active {
		q.wg.Add(1)
		go q.drain(key)
	}
	return nil
}

// Len returns the number of jobs queued or running. Enqueue fails once it
// reaches maxPending.
func (q *TurnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Limit returns maxPending
func (q *TurnQueue) Limit() int {
	return q.maxPending
}

// Shutdown stops accepting jobs and waits for queued ones to finish
func (q *TurnQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.logger.Warn("Turn queue shutdown timed out", zap.Int("pending", q.Len()))
		return ctx.Err()
	}
}

// drain owns key until its backlog is empty. A key present in pending, even
// with no jobs, has a draining goroutine.
func (q *TurnQueue) drain(key string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		q.run(key, job)

		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
	}
}

func (q *TurnQueue) run(key string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Turn panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	job()
}
